package amm

import (
	"versecore/internal/apperr"
	"versecore/internal/market"
	"versecore/pkg/fx"
)

// maxL2Buckets is the spec.md §4.C cap on discretized buckets for a
// continuous-outcome market.
const maxL2Buckets = 100

// L2AMM implements the continuous-outcome kernel (spec.md §4.C): the
// price distribution is represented as up to 100 discretized buckets
// over a price range, and a quote integrates probability mass by
// Simpson's rule. "Outcome" here indexes a bucket rather than a
// discrete market outcome.
type L2AMM struct {
	cfg KernelConfig
}

func (k *L2AMM) Kind() market.AMMKind { return market.AMML2AMM }

// density builds a step function over bucket index from the
// proposal's stored bucket masses, used as the integrand for Simpson
// quadrature. Bucket boundaries are unit spaced in bucket-index space;
// callers translate a real price range into bucket-index bounds
// before calling massOverRange.
func density(buckets []fx.Fx) func(fx.Fx) (fx.Fx, error) {
	return func(x fx.Fx) (fx.Fx, error) {
		idx := int(x.ToMicro() / market.MicroUnit)
		if idx < 0 {
			idx = 0
		}
		if idx >= len(buckets) {
			idx = len(buckets) - 1
		}
		if len(buckets) == 0 {
			return fx.Zero, nil
		}
		return buckets[idx], nil
	}
}

// massOverRange integrates the bucket density over [lo, hi] via
// composite Simpson's rule (spec.md §4.A/§4.C).
func massOverRange(buckets []fx.Fx, lo, hi fx.Fx) (fx.Fx, error) {
	if len(buckets) == 0 {
		return fx.Zero, apperr.New(apperr.InvariantViolation, "l2amm: no buckets configured")
	}
	return fx.Simpson(density(buckets), lo, hi)
}

func (k *L2AMM) Quote(p *market.Proposal, outcome int) (Quote, error) {
	p.RLock()
	snap := p.Snapshot()
	p.RUnlock()
	if len(snap.L2Buckets) == 0 {
		return Quote{}, apperr.New(apperr.InvariantViolation, "l2amm: no buckets configured")
	}
	if outcome < 0 || outcome >= len(snap.L2Buckets) {
		return Quote{}, apperr.New(apperr.InvalidOutcome, "bucket index out of range")
	}
	total, err := sumFx(snap.L2Buckets)
	if err != nil {
		return Quote{}, err
	}
	if total.IsZero() {
		return Quote{Price: fx.Zero}, nil
	}
	price, err := snap.L2Buckets[outcome].Div(total)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Price: price}, nil
}

// SimulateSwap treats size as a bucket-index range width centered on
// outcome: it reports the probability mass in that window before and
// after a hypothetical redistribution toward (buy) or away from
// (sell) the window.
func (k *L2AMM) SimulateSwap(p *market.Proposal, outcome int, size fx.Fx, isBuy bool) (SwapSimulation, error) {
	if err := market.ValidateTradeSize(size); err != nil {
		return SwapSimulation{}, err
	}
	p.RLock()
	snap := p.Snapshot()
	p.RUnlock()
	if len(snap.L2Buckets) == 0 {
		return SwapSimulation{}, apperr.New(apperr.InvariantViolation, "l2amm: no buckets configured")
	}

	lo, hi, err := bucketWindow(outcome, size, len(snap.L2Buckets))
	if err != nil {
		return SwapSimulation{}, err
	}

	before, err := massOverRange(snap.L2Buckets, lo, hi)
	if err != nil {
		return SwapSimulation{}, err
	}

	shifted := append([]fx.Fx(nil), snap.L2Buckets...)
	width := hi.ToMicro()/market.MicroUnit - lo.ToMicro()/market.MicroUnit + 1
	shiftAmount, err := fx.MulDiv(before, fx.FromInt64(1), fx.FromInt64(int64(width)+1))
	if err != nil {
		return SwapSimulation{}, err
	}
	for i := lo.ToMicro() / market.MicroUnit; i <= hi.ToMicro()/market.MicroUnit && int(i) < len(shifted); i++ {
		if i < 0 {
			continue
		}
		if isBuy {
			shifted[i], err = shifted[i].Add(shiftAmount)
		} else {
			shifted[i], err = shifted[i].Sub(shiftAmount)
			if err == nil && shifted[i].Sign() < 0 {
				shifted[i] = fx.Zero
			}
		}
		if err != nil {
			return SwapSimulation{}, err
		}
	}

	after, err := massOverRange(shifted, lo, hi)
	if err != nil {
		return SwapSimulation{}, err
	}

	return SwapSimulation{ImpactPrice: before, NewPrice: after}, nil
}

func bucketWindow(outcome int, size fx.Fx, nBuckets int) (fx.Fx, fx.Fx, error) {
	if outcome < 0 || outcome >= nBuckets {
		return fx.Zero, fx.Zero, apperr.New(apperr.InvalidOutcome, "bucket index out of range")
	}
	radius := int64(size.ToMicro()/market.MicroUnit) / 2
	if radius < 0 {
		radius = 0
	}
	lo := outcome - int(radius)
	hi := outcome + int(radius)
	if lo < 0 {
		lo = 0
	}
	if hi >= nBuckets {
		hi = nBuckets - 1
	}
	if hi < lo {
		hi = lo
	}
	return fx.FromInt64(int64(lo)), fx.FromInt64(int64(hi)), nil
}

func (k *L2AMM) ApplySwap(p *market.Proposal, outcome int, size fx.Fx, isBuy bool, slotsElapsed uint64) (SwapResult, error) {
	sim, err := k.SimulateSwap(p, outcome, size, isBuy)
	if err != nil {
		return SwapResult{}, err
	}

	var result SwapResult
	err = p.WithLock(func(p *market.Proposal) error {
		if err := checkFeeBps(p.FeeBps, k.cfg.MaxFeeBps); err != nil {
			return err
		}
		if len(p.L2Buckets) == 0 {
			return apperr.New(apperr.InvariantViolation, "l2amm: no buckets configured")
		}

		lo, hi, err := bucketWindow(outcome, size, len(p.L2Buckets))
		if err != nil {
			return err
		}
		before, err := massOverRange(p.L2Buckets, lo, hi)
		if err != nil {
			return err
		}
		width := hi.ToMicro()/market.MicroUnit - lo.ToMicro()/market.MicroUnit + 1
		shiftAmount, err := fx.MulDiv(before, fx.FromInt64(1), fx.FromInt64(int64(width)+1))
		if err != nil {
			return err
		}
		loI, hiI := lo.ToMicro()/market.MicroUnit, hi.ToMicro()/market.MicroUnit
		for i := loI; i <= hiI && int(i) < len(p.L2Buckets); i++ {
			if i < 0 {
				continue
			}
			if isBuy {
				p.L2Buckets[i], err = p.L2Buckets[i].Add(shiftAmount)
			} else {
				p.L2Buckets[i], err = p.L2Buckets[i].Sub(shiftAmount)
				if err == nil && p.L2Buckets[i].Sign() < 0 {
					p.L2Buckets[i] = fx.Zero
				}
			}
			if err != nil {
				return err
			}
		}

		total, err := sumFx(p.L2Buckets)
		if err != nil {
			return err
		}
		oldPrices := append([]uint64(nil), p.Prices...)
		if !total.IsZero() && len(p.Prices) == len(p.L2Buckets) {
			for i, mass := range p.L2Buckets {
				px, err := mass.Div(total)
				if err != nil {
					return err
				}
				p.Prices[i] = uint64(px.ToMicro())
			}
			for i := range p.Prices {
				if err := checkPriceClamp(oldPrices[i], p.Prices[i], k.cfg.PriceClampBpsPerSlot, slotsElapsed); err != nil {
					return err
				}
			}
			if err := checkPriceSumInvariant(p.Prices); err != nil {
				return err
			}
		}

		diff, err := sim.NewPrice.Sub(sim.ImpactPrice)
		if err != nil {
			return err
		}
		diff = diff.Abs()
		fee, err := applyFee(diff, p.FeeBps)
		if err != nil {
			return err
		}

		delta := uint64(size.ToMicro() / market.MicroUnit)
		if delta == 0 {
			delta = 1
		}
		p.TotalVolume += delta

		execPrice := fx.Zero
		if !total.IsZero() {
			px, err := p.L2Buckets[outcome].Div(total)
			if err != nil {
				return err
			}
			execPrice = fx.FromMicro(uint64(px.ToMicro()))
		}

		result = SwapResult{ExecPrice: execPrice, FeeAmount: fee}
		return nil
	})
	return result, err
}

func (k *L2AMM) InvariantOK(p *market.Proposal) bool {
	p.RLock()
	buckets := append([]fx.Fx(nil), p.L2Buckets...)
	p.RUnlock()
	if len(buckets) == 0 {
		return true
	}
	for _, b := range buckets {
		if b.Sign() < 0 {
			return false
		}
	}
	return true
}
