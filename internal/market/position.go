package market

import (
	"sync"

	"versecore/internal/apperr"
	"versecore/pkg/fx"
)

// Position is a leveraged directional stake in a single outcome of a
// Proposal (spec.md §3/§4.D). The position engine (internal/position)
// owns the math that computes these fields; this type only carries the
// state and the invariants that must hold regardless of which formula
// produced them.
type Position struct {
	mu sync.RWMutex

	ID         PositionID
	ProposalID ProposalID
	Outcome    int
	Direction  Direction
	Owner      string // collateral-vault account key (spec.md §6)

	Size           fx.Fx // notional exposure, always >= 0
	EntryPrice     fx.Fx // price level at open (the open swap's ExecPrice)
	Margin         fx.Fx // collateral posted, always >= 0
	BaseLeverage   fx.Fx // leverage requested at open, in [1, LMax]
	EffectiveLeverage fx.Fx // recomputed from PnL, clamped [1, LMax]

	RealizedPnL   fx.Fx
	LiquidationPrice fx.Fx

	FundingState FundingState

	Open bool
}

// NewPosition constructs a Position and validates the invariants from
// spec.md §4.D that are checkable without a live price: size/margin
// nonneg, base leverage within bounds.
func NewPosition(id PositionID, proposalID ProposalID, outcome int, dir Direction, owner string, size, entryPrice, margin, baseLeverage, lMax fx.Fx) (*Position, error) {
	if size.Sign() < 0 {
		return nil, apperr.New(apperr.InvalidAmount, "position size must be nonnegative")
	}
	if margin.Sign() < 0 {
		return nil, apperr.New(apperr.InvalidAmount, "position margin must be nonnegative")
	}
	one := fx.One
	if baseLeverage.Cmp(one) < 0 || baseLeverage.Cmp(lMax) > 0 {
		return nil, apperr.Newf(apperr.LeverageExceeded, "base leverage out of [1,%s]", lMax.String())
	}

	p := &Position{
		ID:                id,
		ProposalID:        proposalID,
		Outcome:           outcome,
		Direction:         dir,
		Owner:             owner,
		Size:              size,
		EntryPrice:        entryPrice,
		Margin:            margin,
		BaseLeverage:      baseLeverage,
		EffectiveLeverage: baseLeverage,
		RealizedPnL:       fx.Zero,
		Open:              true,
	}
	return p, nil
}

// CheckInvariants re-verifies the invariants of spec.md §4.D that hold
// independent of live pricing.
func (p *Position) CheckInvariants(lMax fx.Fx) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.checkInvariantsLocked(lMax)
}

func (p *Position) checkInvariantsLocked(lMax fx.Fx) error {
	if p.Size.Sign() < 0 {
		return apperr.New(apperr.InvariantViolation, "position size went negative")
	}
	if p.Margin.Sign() < 0 {
		return apperr.New(apperr.InvariantViolation, "position margin went negative")
	}
	one := fx.One
	if p.EffectiveLeverage.Cmp(one) < 0 || p.EffectiveLeverage.Cmp(lMax) > 0 {
		return apperr.Newf(apperr.InvariantViolation, "effective leverage %s escaped [1,%s]", p.EffectiveLeverage.String(), lMax.String())
	}
	return nil
}

// WithLock runs fn with the position's writer lock held, re-checking
// invariants on the way out.
func (p *Position) WithLock(lMax fx.Fx, fn func(p *Position) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := fn(p); err != nil {
		return err
	}
	return p.checkInvariantsLocked(lMax)
}

func (p *Position) RLock()   { p.mu.RLock() }
func (p *Position) RUnlock() { p.mu.RUnlock() }

// Close marks the position terminal; the position engine is
// responsible for settling margin/PnL transfers before calling this.
func (p *Position) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.Open {
		return apperr.New(apperr.InvariantViolation, "position already closed")
	}
	p.Open = false
	return nil
}

// Restore overwrites every mutable field with a prior Snapshot,
// bypassing Close's one-way transition (spec.md §4.G revert restores a
// recorded pre-image verbatim). Invariants are re-checked on exit.
func (p *Position) Restore(snap PositionSnapshot, lMax fx.Fx) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Size = snap.Size
	p.EntryPrice = snap.EntryPrice
	p.Margin = snap.Margin
	p.BaseLeverage = snap.BaseLeverage
	p.EffectiveLeverage = snap.EffectiveLeverage
	p.RealizedPnL = snap.RealizedPnL
	p.LiquidationPrice = snap.LiquidationPrice
	p.Open = snap.Open
	return p.checkInvariantsLocked(lMax)
}

// Snapshot returns a value copy for read-only callers.
type PositionSnapshot struct {
	ID                PositionID
	ProposalID        ProposalID
	Outcome           int
	Direction         Direction
	Owner             string
	Size              fx.Fx
	EntryPrice        fx.Fx
	Margin            fx.Fx
	BaseLeverage      fx.Fx
	EffectiveLeverage fx.Fx
	RealizedPnL       fx.Fx
	LiquidationPrice  fx.Fx
	Open              bool
}

func (p *Position) Snapshot() PositionSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PositionSnapshot{
		ID:                p.ID,
		ProposalID:        p.ProposalID,
		Outcome:           p.Outcome,
		Direction:         p.Direction,
		Owner:             p.Owner,
		Size:              p.Size,
		EntryPrice:        p.EntryPrice,
		Margin:            p.Margin,
		BaseLeverage:      p.BaseLeverage,
		EffectiveLeverage: p.EffectiveLeverage,
		RealizedPnL:       p.RealizedPnL,
		LiquidationPrice:  p.LiquidationPrice,
		Open:              p.Open,
	}
}
