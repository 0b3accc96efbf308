package market

import (
	"versecore/internal/apperr"
	"versecore/pkg/fx"
)

// CheckVaultCoversMargin verifies spec.md §8's cross-entity invariant
// vault >= Sigma position.margin over every open position. Callers
// (typically the chain & recovery coordinator, post-commit) supply the
// margin sum they have already accumulated rather than walking every
// position here, since this package has no position registry of its
// own to iterate.
func CheckVaultCoversMargin(vault, totalMargin fx.Fx) error {
	if vault.Cmp(totalMargin) < 0 {
		return apperr.Newf(apperr.InvariantViolation, "vault %s below total open margin %s", vault.String(), totalMargin.String())
	}
	return nil
}

// CheckMarginLeverageProduct verifies spec.md §8's per-open invariant
// margin * leverage == size at the moment of open, within one
// micro-unit of rounding slack.
func CheckMarginLeverageProduct(margin, leverage, size fx.Fx) error {
	product, err := margin.Mul(leverage)
	if err != nil {
		return err
	}
	diff, err := product.Sub(size)
	if err != nil {
		return err
	}
	tolerance := fx.FromMicro(1)
	if diff.Abs().Cmp(tolerance) > 0 {
		return apperr.Newf(apperr.InvariantViolation, "margin*leverage %s != size %s", product.String(), size.String())
	}
	return nil
}

// CheckEquityNonNegative verifies spec.md §8's monotonic invariant
// margin + unrealized_pnl >= 0 prior to liquidation. A violation here
// means liquidation should already have fired; it is surfaced as an
// invariant violation rather than silently clamped, so the caller can
// route it into the recovery coordinator.
func CheckEquityNonNegative(margin, unrealizedPnL fx.Fx) error {
	equity, err := margin.Add(unrealizedPnL)
	if err != nil {
		return err
	}
	if equity.Sign() < 0 {
		return apperr.Newf(apperr.InvariantViolation, "position equity %s went negative before liquidation", equity.String())
	}
	return nil
}

// CheckRoundTripPrice verifies spec.md §8's round-trip property: a buy
// of size s on outcome k followed by a sell of size s on outcome k, on
// an isolated proposal with no other traffic, returns the price to
// within 1 bps of its pre-trade value.
func CheckRoundTripPrice(preTrade, postRoundTrip uint64) error {
	var diff int64
	if preTrade > postRoundTrip {
		diff = int64(preTrade - postRoundTrip)
	} else {
		diff = int64(postRoundTrip - preTrade)
	}
	toleranceAbs := int64(preTrade) / 10_000 // 1 bps
	if toleranceAbs < 1 {
		toleranceAbs = 1
	}
	if diff > toleranceAbs {
		return apperr.Newf(apperr.AMMInvariantViolation, "round-trip price drift %d exceeds 1bps tolerance", diff)
	}
	return nil
}

// ValidateTradeSize rejects a zero-size trade (spec.md §8 boundary:
// "Trade of size 0 Fails with InvalidAmount").
func ValidateTradeSize(size fx.Fx) error {
	if size.Sign() <= 0 {
		return apperr.New(apperr.InvalidAmount, "trade size must be positive")
	}
	return nil
}

// ValidateLeverageRequest rejects a leverage request above the tier
// ceiling (spec.md §8 boundary: "Leverage L_MAX+1 Fails with
// LeverageExceeded").
func ValidateLeverageRequest(requested, lMax fx.Fx) error {
	if requested.Cmp(lMax) > 0 {
		return apperr.Newf(apperr.LeverageExceeded, "requested leverage %s exceeds tier max %s", requested.String(), lMax.String())
	}
	one := fx.One
	if requested.Cmp(one) < 0 {
		return apperr.New(apperr.LeverageExceeded, "requested leverage below 1")
	}
	return nil
}

// PriceMovementBps computes the magnitude of price movement between
// two micro-unit prices, in bps of the prior price.
func PriceMovementBps(before, after uint64) uint64 {
	var diff uint64
	if before > after {
		diff = before - after
	} else {
		diff = after - before
	}
	if before == 0 {
		return 0
	}
	return diff * 10_000 / before
}

// ValidatePriceMovement rejects a price movement beyond clampBps
// (spec.md §8 boundary: "Price movement 201 bps in one slot when clamp
// is 200 bps Fails with PriceManipulation").
func ValidatePriceMovement(before, after uint64, clampBps uint64) error {
	if PriceMovementBps(before, after) > clampBps {
		return apperr.Newf(apperr.PriceManipulation, "price movement exceeds clamp of %d bps", clampBps)
	}
	return nil
}

// EffectiveLeverage implements spec.md §4.D's dynamic leverage formula:
// effective = base * (1 - pnl_bps/10_000), clamped to [1, L_MAX].
// Profits (positive pnl_bps) reduce effective leverage; losses raise
// it. The clamp is load-bearing, not cosmetic: it prevents negative
// effective leverage after a runaway-profit tick.
func EffectiveLeverage(base fx.Fx, pnlBps int64, lMax fx.Fx) (fx.Fx, error) {
	factor, err := fx.One.Sub(fx.FromMicroSigned(pnlBps * 100))
	if err != nil {
		return fx.Zero, err
	}
	eff, err := base.Mul(factor)
	if err != nil {
		return fx.Zero, err
	}
	if eff.Cmp(fx.One) < 0 {
		return fx.One, nil
	}
	if eff.Cmp(lMax) > 0 {
		return lMax, nil
	}
	return eff, nil
}
