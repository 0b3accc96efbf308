// Package position implements the entry pricing, margin/liquidation
// math, and dynamic effective-leverage recomputation of spec.md §4.D.
package position

import (
	"versecore/internal/amm"
	"versecore/internal/apperr"
	"versecore/internal/idgen"
	"versecore/internal/market"
	"versecore/pkg/fx"
)

// maintenanceMarginRatio is the buffer baked into the liquidation
// price so a position is closed before equity actually reaches zero
// (spec.md §4.D: "liq = entry * (1 - 1/leverage + maintenance_margin_ratio)").
var maintenanceMarginRatio = fx.Must(fx.FromString("0.005"))

// Engine opens, marks, and closes positions against a Kernel and a
// GlobalConfig. It holds no position storage of its own; callers own
// the registry and pass the *market.Position to mutate.
type Engine struct {
	cfg *market.GlobalConfig
}

// NewEngine constructs a position Engine bound to a GlobalConfig for
// leverage-tier lookups and vault/OI accounting.
func NewEngine(cfg *market.GlobalConfig) *Engine {
	return &Engine{cfg: cfg}
}

// OpenParams are the inputs to Open (spec.md §4.D).
type OpenParams struct {
	Owner             idgen.ChainID
	Proposal          *market.Proposal
	Kernel            amm.Kernel
	Outcome           int
	IsLong            bool
	Size              fx.Fx
	RequestedLeverage fx.Fx
	SlotsElapsed      uint64
}

// Open validates and executes a position open, returning the new
// Position. It does not itself touch the vault; callers debit the
// owner's margin through the collateral-vault contract (spec.md §6)
// before or after this call per their own atomicity boundary. On
// success it adds Size to GlobalConfig's total open interest.
func (e *Engine) Open(params OpenParams) (*market.Position, error) {
	if !params.Proposal.AllowsOpen() {
		return nil, apperr.New(apperr.ProposalNotActive, "proposal does not allow opens")
	}
	if err := market.ValidateTradeSize(params.Size); err != nil {
		return nil, err
	}

	snap := params.Proposal.Snapshot()
	if params.Kernel.Kind() != snap.AMMKind {
		return nil, apperr.Newf(apperr.InvariantViolation,
			"kernel kind %s does not match proposal amm kind %s", params.Kernel.Kind(), snap.AMMKind)
	}

	maxOutcome := snap.Outcomes
	if snap.AMMKind == market.AMML2AMM {
		maxOutcome = len(snap.L2Buckets)
	}
	if params.Outcome < 0 || params.Outcome >= maxOutcome {
		return nil, apperr.New(apperr.InvalidOutcome, "outcome out of range")
	}

	lMax, err := e.cfg.MaxLeverageFor(snap.Outcomes)
	if err != nil {
		return nil, err
	}
	if err := market.ValidateLeverageRequest(params.RequestedLeverage, lMax); err != nil {
		return nil, err
	}

	swap, err := params.Kernel.ApplySwap(params.Proposal, params.Outcome, params.Size, params.IsLong, params.SlotsElapsed)
	if err != nil {
		return nil, err
	}
	entryPrice := swap.ExecPrice

	margin, err := params.Size.Div(params.RequestedLeverage)
	if err != nil {
		return nil, err
	}

	liqPrice, err := LiquidationPrice(entryPrice, params.RequestedLeverage, params.IsLong)
	if err != nil {
		return nil, err
	}

	dir := market.Short
	if params.IsLong {
		dir = market.Long
	}

	pos, err := market.NewPosition(idgen.NewID256(), snap.ID, params.Outcome, dir, params.Owner.String(),
		params.Size, entryPrice, margin, params.RequestedLeverage, lMax)
	if err != nil {
		return nil, err
	}
	if err := pos.WithLock(lMax, func(p *market.Position) error {
		p.LiquidationPrice = liqPrice
		return nil
	}); err != nil {
		return nil, err
	}

	if err := e.cfg.AdjustTotalOI(params.Size); err != nil {
		return nil, err
	}

	return pos, nil
}

// LiquidationPrice implements spec.md §4.D: the price at which equity
// reaches zero after fees, given entry price and leverage. Long:
// entry*(1 - 1/leverage + maintenance_margin_ratio); short is
// symmetric above entry.
func LiquidationPrice(entryPrice, leverage fx.Fx, isLong bool) (fx.Fx, error) {
	invLeverage, err := fx.One.Div(leverage)
	if err != nil {
		return fx.Zero, err
	}
	if isLong {
		factor, err := fx.One.Sub(invLeverage)
		if err != nil {
			return fx.Zero, err
		}
		factor, err = factor.Add(maintenanceMarginRatio)
		if err != nil {
			return fx.Zero, err
		}
		return entryPrice.Mul(factor)
	}
	factor, err := fx.One.Add(invLeverage)
	if err != nil {
		return fx.Zero, err
	}
	factor, err = factor.Sub(maintenanceMarginRatio)
	if err != nil {
		return fx.Zero, err
	}
	return entryPrice.Mul(factor)
}

// MarkTick implements spec.md §4.D's mark-to-market tick: recomputes
// unrealized PnL, effective leverage, and liquidation price for a
// single open position given a fresh mark price. chainMultiplierBps
// is the optional further scale from a compound-chain context; pass
// 10_000 (1.0x) when not applicable.
func (e *Engine) MarkTick(pos *market.Position, markPrice fx.Fx, lMax fx.Fx, chainMultiplierBps int64) error {
	return pos.WithLock(lMax, func(p *market.Position) error {
		if !p.Open {
			return apperr.New(apperr.InvariantViolation, "cannot mark a closed position")
		}

		diff, err := markPrice.Sub(p.EntryPrice)
		if err != nil {
			return err
		}
		if p.Direction == market.Short {
			diff = diff.Neg()
		}
		pnl, err := p.Size.Mul(diff)
		if err != nil {
			return err
		}

		pnlBpsFx, err := fx.MulDiv(pnl, fx.FromInt64(10_000), p.Size)
		if err != nil {
			return err
		}
		pnlBps := pnlBpsFx.ToMicro() / 1_000_000

		eff, err := market.EffectiveLeverage(p.BaseLeverage, pnlBps, lMax)
		if err != nil {
			return err
		}

		if chainMultiplierBps != 0 && chainMultiplierBps != 10_000 {
			scaled, err := fx.MulDiv(eff, fx.FromInt64(chainMultiplierBps), fx.FromInt64(10_000))
			if err != nil {
				return err
			}
			if scaled.Cmp(fx.One) < 0 {
				scaled = fx.One
			}
			if scaled.Cmp(lMax) > 0 {
				scaled = lMax
			}
			eff = scaled
		}

		liqPrice, err := LiquidationPrice(p.EntryPrice, eff, p.Direction == market.Long)
		if err != nil {
			return err
		}

		p.EffectiveLeverage = eff
		p.LiquidationPrice = liqPrice
		return nil
	})
}

// IsUnhealthy implements spec.md §4.D's liquidation predicate.
func IsUnhealthy(markPrice fx.Fx, pos market.PositionSnapshot) bool {
	if pos.Direction == market.Long {
		return markPrice.Cmp(pos.LiquidationPrice) <= 0
	}
	return markPrice.Cmp(pos.LiquidationPrice) >= 0
}

// Close implements spec.md §4.D: applies the opposite-direction swap,
// records realized PnL, and marks the position closed. It returns the
// amount to release to the owner (margin plus/minus PnL, floored at
// zero) for the caller to hand to the collateral-vault contract.
// markPrice is the caller's current mark for the health recheck when
// allowUnhealthyOnly is set; it plays no role otherwise.
func (e *Engine) Close(pos *market.Position, proposal *market.Proposal, kernel amm.Kernel, lMax fx.Fx, slotsElapsed uint64, markPrice fx.Fx, allowUnhealthyOnly bool) (fx.Fx, error) {
	snap := pos.Snapshot()
	if !snap.Open {
		return fx.Zero, apperr.New(apperr.InvariantViolation, "position already closed")
	}
	if propKind := proposal.Snapshot().AMMKind; kernel.Kind() != propKind {
		return fx.Zero, apperr.Newf(apperr.InvariantViolation,
			"kernel kind %s does not match proposal amm kind %s", kernel.Kind(), propKind)
	}

	if allowUnhealthyOnly && !IsUnhealthy(markPrice, snap) {
		// Caller asked for a liquidation-only close but health has
		// recovered since enqueue.
		return fx.Zero, apperr.New(apperr.PositionHealthy, "position health recovered before liquidation")
	}

	isSellingLong := snap.Direction == market.Long
	swap, err := kernel.ApplySwap(proposal, snap.Outcome, snap.Size, !isSellingLong, slotsElapsed)
	if err != nil {
		return fx.Zero, err
	}

	diff, err := swap.ExecPrice.Sub(snap.EntryPrice)
	if err != nil {
		return fx.Zero, err
	}
	if snap.Direction == market.Short {
		diff = diff.Neg()
	}
	realizedPnL, err := snap.Size.Mul(diff)
	if err != nil {
		return fx.Zero, err
	}

	payout, err := snap.Margin.Add(realizedPnL)
	if err != nil {
		return fx.Zero, err
	}
	if payout.Sign() < 0 {
		payout = fx.Zero
	}

	if err := pos.WithLock(lMax, func(p *market.Position) error {
		p.RealizedPnL = realizedPnL
		return nil
	}); err != nil {
		return fx.Zero, err
	}
	if err := pos.Close(); err != nil {
		return fx.Zero, err
	}

	if err := e.cfg.AdjustTotalOI(snap.Size.Neg()); err != nil {
		return fx.Zero, err
	}

	return payout, nil
}
