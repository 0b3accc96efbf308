package amm

import (
	"versecore/internal/apperr"
	"versecore/pkg/fx"
)

// CalculateFee mirrors the reference amount*fee_bps/10_000 helper,
// failing InvalidAmount if fee_bps exceeds 10_000.
func CalculateFee(amount fx.Fx, feeBps uint16) (fx.Fx, error) {
	if feeBps > 10_000 {
		return fx.Zero, apperr.New(apperr.InvalidAmount, "fee_bps exceeds 10000")
	}
	return applyFee(amount, feeBps)
}

// ApplyFeeDeduct subtracts the fee from amount, used on the sell side
// where the fee reduces proceeds.
func ApplyFeeDeduct(amount fx.Fx, feeBps uint16) (fx.Fx, error) {
	fee, err := CalculateFee(amount, feeBps)
	if err != nil {
		return fx.Zero, err
	}
	return amount.Sub(fee)
}

// PriceImpactBps computes the magnitude of a price move as bps of the
// initial price, saturating at 10_000 (100%).
func PriceImpactBps(initialPrice, finalPrice uint64) uint16 {
	if initialPrice == 0 {
		return 10_000
	}
	var diff uint64
	if finalPrice > initialPrice {
		diff = finalPrice - initialPrice
	} else {
		diff = initialPrice - finalPrice
	}
	impact := diff * 10_000 / initialPrice
	if impact > 10_000 {
		impact = 10_000
	}
	return uint16(impact)
}

// ValidateSlippage enforces a maximum tolerated slippage between an
// expected and an actual amount, direction-aware: buys are penalized
// for costing more than expected, sells for paying out less.
func ValidateSlippage(expectedAmount, actualAmount fx.Fx, maxSlippageBps uint16, isBuy bool) error {
	if maxSlippageBps > 10_000 {
		return apperr.New(apperr.InvalidAmount, "max_slippage_bps exceeds 10000")
	}

	var slippageBps fx.Fx
	var err error
	if isBuy {
		if actualAmount.Cmp(expectedAmount) > 0 {
			diff, e := actualAmount.Sub(expectedAmount)
			if e != nil {
				return e
			}
			slippageBps, err = fx.MulDiv(diff, fx.FromInt64(10_000), expectedAmount)
		} else {
			slippageBps = fx.Zero
		}
	} else {
		if expectedAmount.Cmp(actualAmount) > 0 {
			diff, e := expectedAmount.Sub(actualAmount)
			if e != nil {
				return e
			}
			slippageBps, err = fx.MulDiv(diff, fx.FromInt64(10_000), expectedAmount)
		} else {
			slippageBps = fx.Zero
		}
	}
	if err != nil {
		return err
	}

	if slippageBps.Cmp(fx.FromInt64(int64(maxSlippageBps))) > 0 {
		return apperr.New(apperr.PriceManipulation, "slippage exceeds tolerance")
	}
	return nil
}

// PricePoint is a (price, slot) sample used by TWAP.
type PricePoint struct {
	Price uint64
	Slot  uint64
}

// CalculateTWAP computes the time-weighted average price over the
// trailing windowSlots, weighting each segment by its duration between
// samples.
func CalculateTWAP(history []PricePoint, windowSlots uint64) (uint64, error) {
	if len(history) == 0 {
		return 0, apperr.New(apperr.InvalidAmount, "empty price history")
	}

	currentSlot := history[len(history)-1].Slot
	var startSlot uint64
	if currentSlot > windowSlots {
		startSlot = currentSlot - windowSlots
	}

	var weightedSum, totalWeight uint64
	for i := 0; i+1 < len(history); i++ {
		p1, t1 := history[i].Price, history[i].Slot
		t2 := history[i+1].Slot
		if t2 < startSlot {
			continue
		}
		tStart := t1
		if startSlot > tStart {
			tStart = startSlot
		}
		weight := t2 - tStart
		weightedSum += p1 * weight
		totalWeight += weight
	}

	if totalWeight == 0 {
		return history[len(history)-1].Price, nil
	}
	return weightedSum / totalWeight, nil
}

// ValidatePriceBounds rejects a price outside [minPrice, maxPrice].
func ValidatePriceBounds(price, minPrice, maxPrice uint64) error {
	if price < minPrice || price > maxPrice {
		return apperr.New(apperr.InvalidAmount, "price outside configured bounds")
	}
	return nil
}

// AMMOperation tags a compute-budget lookup (spec.md §5: "AMM math and
// quadrature are CPU-only... must complete within a per-operation
// compute budget").
type AMMOperation int

const (
	OpInitialize AMMOperation = iota
	OpTrade
	OpAddLiquidity
	OpRemoveLiquidity
	OpUpdateDistribution
)

// ComputeBudget returns the compute-unit ceiling for an (AMM kind,
// operation) pair so callers can reject or defer an operation
// projected to exceed it
// (spec.md §5: LMSR/L2/PMAMM trade <=20k units; 8-outcome batch <=180k).
func ComputeBudget(kind interface{ String() string }, op AMMOperation) uint32 {
	switch kind.String() {
	case "LMSR":
		switch op {
		case OpTrade:
			return 20_000
		case OpInitialize:
			return 15_000
		}
	case "PMAMM":
		switch op {
		case OpTrade:
			return 20_000
		case OpAddLiquidity:
			return 45_000
		case OpRemoveLiquidity:
			return 40_000
		}
	case "L2AMM":
		switch op {
		case OpTrade:
			return 20_000
		case OpUpdateDistribution:
			return 30_000
		}
	case "Hybrid":
		switch op {
		case OpTrade:
			return 30_000
		case OpInitialize:
			return 20_000
		case OpAddLiquidity:
			return 50_000
		case OpRemoveLiquidity:
			return 45_000
		case OpUpdateDistribution:
			return 35_000
		}
	}
	return 50_000
}
