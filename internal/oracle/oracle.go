// Package oracle defines the boundary contracts spec.md §6 names as
// collaborator code outside the core: a mark-price oracle, a
// collateral vault, a resolution oracle, and a keeper signal. The core
// only consumes these as interfaces; this package also ships a small
// in-memory reference implementation of each, useful for wiring a demo
// or an integration test without a real price feed or settlement
// layer behind it.
package oracle

import (
	"sync"

	"versecore/internal/apperr"
	"versecore/internal/market"
	"versecore/pkg/fx"
)

// MinConfidenceBps is the confidence floor below which a mark-price
// read is treated as unhealthy (spec.md §6: "confidence < 0.9 · 10_000").
const MinConfidenceBps = 9_000

// MaxStalenessSlots bounds how far behind the current slot a read may
// be before it is treated as unhealthy (spec.md §6).
const MaxStalenessSlots = 50

// MarkPrice is one (outcome -> price) read from the mark-price oracle.
type MarkPrice struct {
	ProposalID    market.ProposalID
	Outcome       int
	PriceMicro    uint64
	ConfidenceBps uint32
	TimestampSlot uint64
}

// IsHealthy reports whether a read is fresh and confident enough to
// drive trading decisions, evaluated against currentSlot.
func (m MarkPrice) IsHealthy(currentSlot uint64) bool {
	if m.ConfidenceBps < MinConfidenceBps {
		return false
	}
	if currentSlot > m.TimestampSlot && currentSlot-m.TimestampSlot > MaxStalenessSlots {
		return false
	}
	return true
}

// MarkPriceOracle supplies the latest mark for a proposal's outcome.
type MarkPriceOracle interface {
	Read(proposalID market.ProposalID, outcome int) (MarkPrice, error)
}

// CollateralVault is the owner of external collateral accounting. The
// core never reaches into vault storage directly; every balance
// change goes through Deposit/Withdraw, with GlobalConfig's own
// counters updated by the caller alongside (spec.md §6).
type CollateralVault interface {
	Deposit(owner string, amount fx.Fx) error
	Withdraw(owner string, amount fx.Fx) error
}

// ResolutionEvent is the terminal event a resolution oracle delivers
// for a proposal (spec.md §6).
type ResolutionEvent struct {
	ProposalID     market.ProposalID
	WinningOutcome int
}

// ResolutionOracle delivers the terminal winning-outcome event for a
// proposal once settlement/arbitration (out of core scope) concludes.
type ResolutionOracle interface {
	Resolve(proposalID market.ProposalID) (ResolutionEvent, bool, error)
}

// KeeperSignal is the external per-proposal scan hint the core uses to
// recompute mark and enqueue liquidations (spec.md §6: "No ordering
// requirement among keepers").
type KeeperSignal interface {
	Scan() []market.ProposalID
}

// InMemoryMarkPriceOracle is a test/demo MarkPriceOracle backed by a
// map the caller pushes reads into directly.
type InMemoryMarkPriceOracle struct {
	mu     sync.RWMutex
	quotes map[market.ProposalID]map[int]MarkPrice
}

// NewInMemoryMarkPriceOracle constructs an empty oracle.
func NewInMemoryMarkPriceOracle() *InMemoryMarkPriceOracle {
	return &InMemoryMarkPriceOracle{quotes: make(map[market.ProposalID]map[int]MarkPrice)}
}

// Push installs the latest read for (proposalID, outcome).
func (o *InMemoryMarkPriceOracle) Push(m MarkPrice) {
	o.mu.Lock()
	defer o.mu.Unlock()
	byOutcome, ok := o.quotes[m.ProposalID]
	if !ok {
		byOutcome = make(map[int]MarkPrice)
		o.quotes[m.ProposalID] = byOutcome
	}
	byOutcome[m.Outcome] = m
}

// Read implements MarkPriceOracle.
func (o *InMemoryMarkPriceOracle) Read(proposalID market.ProposalID, outcome int) (MarkPrice, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	byOutcome, ok := o.quotes[proposalID]
	if !ok {
		return MarkPrice{}, apperr.New(apperr.StaleOracle, "no mark-price read for proposal")
	}
	m, ok := byOutcome[outcome]
	if !ok {
		return MarkPrice{}, apperr.New(apperr.StaleOracle, "no mark-price read for outcome")
	}
	return m, nil
}

// InMemoryVault is a test/demo CollateralVault keyed by owner string.
type InMemoryVault struct {
	mu       sync.Mutex
	balances map[string]fx.Fx
}

// NewInMemoryVault constructs an empty vault.
func NewInMemoryVault() *InMemoryVault {
	return &InMemoryVault{balances: make(map[string]fx.Fx)}
}

// Deposit implements CollateralVault.
func (v *InMemoryVault) Deposit(owner string, amount fx.Fx) error {
	if amount.Sign() < 0 {
		return apperr.New(apperr.InvalidAmount, "deposit amount must be nonnegative")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	bal, ok := v.balances[owner]
	if !ok {
		bal = fx.Zero
	}
	sum, err := bal.Add(amount)
	if err != nil {
		return err
	}
	v.balances[owner] = sum
	return nil
}

// Withdraw implements CollateralVault.
func (v *InMemoryVault) Withdraw(owner string, amount fx.Fx) error {
	if amount.Sign() < 0 {
		return apperr.New(apperr.InvalidAmount, "withdraw amount must be nonnegative")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	bal, ok := v.balances[owner]
	if !ok || bal.Cmp(amount) < 0 {
		return apperr.New(apperr.InsufficientFunds, "vault cannot cover withdrawal")
	}
	diff, err := bal.Sub(amount)
	if err != nil {
		return err
	}
	v.balances[owner] = diff
	return nil
}

// BalanceOf reports owner's current vault balance, for test assertions.
func (v *InMemoryVault) BalanceOf(owner string) fx.Fx {
	v.mu.Lock()
	defer v.mu.Unlock()
	bal, ok := v.balances[owner]
	if !ok {
		return fx.Zero
	}
	return bal
}

// InMemoryResolutionOracle is a test/demo ResolutionOracle: callers
// queue a terminal event per proposal, and Resolve drains it once.
type InMemoryResolutionOracle struct {
	mu     sync.Mutex
	events map[market.ProposalID]ResolutionEvent
}

// NewInMemoryResolutionOracle constructs an empty oracle.
func NewInMemoryResolutionOracle() *InMemoryResolutionOracle {
	return &InMemoryResolutionOracle{events: make(map[market.ProposalID]ResolutionEvent)}
}

// QueueResolution schedules a terminal event for a future Resolve call.
func (r *InMemoryResolutionOracle) QueueResolution(e ResolutionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[e.ProposalID] = e
}

// Resolve implements ResolutionOracle; the bool return reports whether
// an event was pending. Draining is one-shot: a second call for the
// same proposal returns ok=false.
func (r *InMemoryResolutionOracle) Resolve(proposalID market.ProposalID) (ResolutionEvent, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[proposalID]
	if !ok {
		return ResolutionEvent{}, false, nil
	}
	delete(r.events, proposalID)
	return e, true, nil
}

// StaticKeeperSignal is a test/demo KeeperSignal that always returns a
// fixed set of proposals; real deployments replace this with whatever
// scan cadence the surrounding service runs.
type StaticKeeperSignal struct {
	proposals []market.ProposalID
}

// NewStaticKeeperSignal constructs a KeeperSignal over a fixed set.
func NewStaticKeeperSignal(proposals []market.ProposalID) *StaticKeeperSignal {
	return &StaticKeeperSignal{proposals: proposals}
}

// Scan implements KeeperSignal.
func (s *StaticKeeperSignal) Scan() []market.ProposalID {
	return append([]market.ProposalID(nil), s.proposals...)
}
