package market

import (
	"sync"

	"versecore/internal/apperr"
	"versecore/pkg/fx"
)

// Proposal is a single prediction market (spec.md §3).
type Proposal struct {
	mu sync.RWMutex

	ID      ProposalID
	VerseID VerseID

	AMMKind  AMMKind
	Outcomes int

	Balances []uint64 // outcome share inventory, nonneg
	Prices   []uint64 // last-quoted price in micro-units

	BValue       fx.Fx // LMSR liquidity parameter
	LParameter   fx.Fx // PM-AMM liquidity parameter
	// L2Buckets is populated only for AMML2AMM proposals; kept here
	// rather than in the amm package so replay/snapshot sees it as
	// part of proposal state.
	L2Buckets []fx.Fx

	TotalLiquidity uint64
	TotalVolume    uint64

	State        ProposalState
	ResolvedOutcome int

	FundingState FundingState
	SettleSlot   uint64

	FeeBps uint16
}

// NewProposal constructs a Proposal, validating the invariants from
// spec.md §3 at construction time.
func NewProposal(id, verseID ProposalID, outcomes int, feeBps uint16) (*Proposal, error) {
	if outcomes < 2 {
		return nil, apperr.New(apperr.InvalidOutcome, "proposal must have at least 2 outcomes")
	}
	if outcomes > NMaxOutcomes {
		return nil, apperr.New(apperr.InvalidOutcome, "proposal exceeds max outcome count")
	}
	if feeBps > 10_000 {
		return nil, apperr.New(apperr.InvalidAmount, "fee_bps exceeds 10000")
	}

	p := &Proposal{
		ID:       id,
		VerseID:  verseID,
		AMMKind:  SelectAMMKind(outcomes),
		Outcomes: outcomes,
		Balances: make([]uint64, outcomes),
		Prices:   make([]uint64, outcomes),
		State:    StateActive,
		FeeBps:   feeBps,
	}

	even := uint64(MicroUnit / outcomes)
	remainder := uint64(MicroUnit) - even*uint64(outcomes)
	for i := range p.Prices {
		p.Prices[i] = even
	}
	p.Prices[0] += remainder // keep exact Sigma == 1e6 at construction

	if err := p.checkInvariantsLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewContinuousProposal constructs a continuous-outcome Proposal priced
// by the L2-AMM kernel (spec.md §4.C): Outcomes is the sentinel value 0
// (market.SelectAMMKind's continuous case), and pricing mass lives in
// bucketCount discretized buckets rather than a discrete outcome array.
func NewContinuousProposal(id, verseID ProposalID, bucketCount int, feeBps uint16) (*Proposal, error) {
	if bucketCount < 2 {
		return nil, apperr.New(apperr.InvalidOutcome, "continuous proposal needs at least 2 buckets")
	}
	if bucketCount > MaxL2Buckets {
		return nil, apperr.New(apperr.InvalidOutcome, "continuous proposal exceeds max bucket count")
	}
	if feeBps > 10_000 {
		return nil, apperr.New(apperr.InvalidAmount, "fee_bps exceeds 10000")
	}

	p := &Proposal{
		ID:        id,
		VerseID:   verseID,
		AMMKind:   AMML2AMM,
		Outcomes:  0,
		Prices:    make([]uint64, bucketCount),
		L2Buckets: make([]fx.Fx, bucketCount),
		State:     StateActive,
		FeeBps:    feeBps,
	}

	even := uint64(MicroUnit / bucketCount)
	remainder := uint64(MicroUnit) - even*uint64(bucketCount)
	evenMass := fx.FromMicro(even)
	for i := range p.Prices {
		p.Prices[i] = even
		p.L2Buckets[i] = evenMass
	}
	p.Prices[0] += remainder

	if err := p.checkInvariantsLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

// checkInvariantsLocked re-verifies the invariants of spec.md §3. The
// caller must hold p.mu.
func (p *Proposal) checkInvariantsLocked() error {
	if p.AMMKind == AMML2AMM {
		if len(p.L2Buckets) != len(p.Prices) {
			return apperr.New(apperr.InvariantViolation, "l2 bucket/price length mismatch")
		}
	} else if p.Outcomes != len(p.Balances) || p.Outcomes != len(p.Prices) {
		return apperr.New(apperr.InvariantViolation, "outcomes/balances/prices length mismatch")
	}

	var sum uint64
	for _, px := range p.Prices {
		sum += px
	}
	toleranceAbs := uint64(MicroUnit) * PriceSumToleranceBps / 10_000
	lo, hi := uint64(MicroUnit)-toleranceAbs, uint64(MicroUnit)+toleranceAbs
	if sum < lo || sum > hi {
		return apperr.Newf(apperr.InvariantViolation, "price sum %d out of tolerance [%d,%d]", sum, lo, hi)
	}

	if p.State == StateResolved && p.ResolvedOutcome >= p.Outcomes {
		return apperr.New(apperr.InvariantViolation, "resolved outcome index out of range")
	}

	return nil
}

// CheckInvariants re-verifies the Proposal's invariants under a read lock.
func (p *Proposal) CheckInvariants() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.checkInvariantsLocked()
}

// WithLock runs fn with the proposal's writer lock held, re-checking
// invariants on the way out. Every mutating call into this proposal
// (from the AMM kernel, position engine, etc.) must go through this so
// the single-writer-per-proposal guarantee of spec.md §5 holds.
func (p *Proposal) WithLock(fn func(p *Proposal) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := fn(p); err != nil {
		return err
	}
	return p.checkInvariantsLocked()
}

// RLock/RUnlock expose the read lock for callers (e.g. the AMM kernel's
// quote path) that only read proposal state.
func (p *Proposal) RLock()   { p.mu.RLock() }
func (p *Proposal) RUnlock() { p.mu.RUnlock() }

// --- state transitions (spec.md §4.B) ---
//
//   Active --pause--> Paused --resume--> Active
//   Active --resolve(k)--> Resolved(k)        (terminal for trading)
//   {Active,Paused} --halt--> Halted --recover--> Active
//
// Only the coverage & circuit-breaker component (§4.F) may call Halt/
// Recover; callers elsewhere are expected to route through it.

// Pause moves Active -> Paused. Paused blocks new opens but permits closes.
func (p *Proposal) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.State != StateActive {
		return apperr.Newf(apperr.ProposalNotActive, "cannot pause from state %s", p.State)
	}
	p.State = StatePaused
	return nil
}

// Resume moves Paused -> Active.
func (p *Proposal) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.State != StatePaused {
		return apperr.Newf(apperr.ProposalNotActive, "cannot resume from state %s", p.State)
	}
	p.State = StateActive
	return nil
}

// Resolve moves Active -> Resolved(k), terminal for trading.
func (p *Proposal) Resolve(outcome int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.State != StateActive && p.State != StateResolving {
		return apperr.Newf(apperr.ProposalNotActive, "cannot resolve from state %s", p.State)
	}
	if outcome < 0 || outcome >= p.Outcomes {
		return apperr.New(apperr.InvalidOutcome, "resolved outcome index out of range")
	}
	p.State = StateResolved
	p.ResolvedOutcome = outcome
	return p.checkInvariantsLocked()
}

// Halt moves {Active,Paused} -> Halted. Reserved for the circuit
// breaker (spec.md §4.F); blocks both opens and closes unless a
// specific breaker's policy allows closes (the breaker component
// decides that, not this method).
func (p *Proposal) Halt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.State != StateActive && p.State != StatePaused {
		return apperr.Newf(apperr.ProposalNotActive, "cannot halt from state %s", p.State)
	}
	p.State = StateHalted
	return nil
}

// Recover moves Halted -> Active. Reserved for the circuit breaker.
func (p *Proposal) Recover() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.State != StateHalted {
		return apperr.Newf(apperr.ProposalNotActive, "cannot recover from state %s", p.State)
	}
	p.State = StateActive
	return nil
}

// AllowsOpen reports whether new positions may be opened given the
// current state alone (the breaker's own halt-override is layered on
// top of this by the caller).
func (p *Proposal) AllowsOpen() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.State == StateActive
}

// AllowsClose reports whether existing positions may be closed given
// the current state alone.
func (p *Proposal) AllowsClose() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.State == StateActive || p.State == StatePaused
}

// Snapshot returns a value copy of the fields needed by read-only
// callers (quoting, health checks) without holding the lock for the
// duration of their work.
type ProposalSnapshot struct {
	ID       ProposalID
	VerseID  VerseID
	AMMKind  AMMKind
	Outcomes int
	Balances []uint64
	Prices   []uint64
	State    ProposalState
	FeeBps   uint16

	BValue     fx.Fx
	LParameter fx.Fx
	L2Buckets  []fx.Fx

	TotalLiquidity uint64
	TotalVolume    uint64
}

// BValueOrDefault returns BValue, or Fx one if the proposal never had
// its liquidity parameter set (defends callers against a zero value
// that would make LMSR's q/b division blow up).
func (s ProposalSnapshot) BValueOrDefault() fx.Fx {
	if s.BValue.IsZero() {
		return fx.One
	}
	return s.BValue
}

// LParameterOrDefault is PM-AMM's analogue of BValueOrDefault.
func (s ProposalSnapshot) LParameterOrDefault() fx.Fx {
	if s.LParameter.IsZero() {
		return fx.One
	}
	return s.LParameter
}

// Restore overwrites every mutable field with a prior Snapshot,
// bypassing the state-machine transition checks (the chain & recovery
// coordinator's in-slot/undo-window revert of spec.md §4.G restores a
// recorded pre-image verbatim, not via the forward transitions).
// Invariants are still re-checked on the way out.
func (p *Proposal) Restore(snap ProposalSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Outcomes = snap.Outcomes
	p.Balances = append([]uint64(nil), snap.Balances...)
	p.Prices = append([]uint64(nil), snap.Prices...)
	p.State = snap.State
	p.FeeBps = snap.FeeBps
	p.BValue = snap.BValue
	p.LParameter = snap.LParameter
	p.L2Buckets = append([]fx.Fx(nil), snap.L2Buckets...)
	p.TotalLiquidity = snap.TotalLiquidity
	p.TotalVolume = snap.TotalVolume
	return p.checkInvariantsLocked()
}

func (p *Proposal) Snapshot() ProposalSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	balances := make([]uint64, len(p.Balances))
	copy(balances, p.Balances)
	prices := make([]uint64, len(p.Prices))
	copy(prices, p.Prices)
	buckets := make([]fx.Fx, len(p.L2Buckets))
	copy(buckets, p.L2Buckets)
	return ProposalSnapshot{
		ID:             p.ID,
		VerseID:        p.VerseID,
		AMMKind:        p.AMMKind,
		Outcomes:       p.Outcomes,
		Balances:       balances,
		Prices:         prices,
		State:          p.State,
		FeeBps:         p.FeeBps,
		BValue:         p.BValue,
		LParameter:     p.LParameter,
		L2Buckets:      buckets,
		TotalLiquidity: p.TotalLiquidity,
		TotalVolume:    p.TotalVolume,
	}
}
