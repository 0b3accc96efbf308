package amm

import (
	"versecore/internal/apperr"
	"versecore/internal/market"
	"versecore/pkg/fx"
)

// PMAMM implements the prediction-market CFMM kernel for 3<=N<=20
// outcomes (spec.md §4.C). Reserves r_i and a liquidity parameter L
// define prices as p_i = (L/r_i) / Sigma_j(L/r_j); a swap that moves
// notional size into outcome k is executed by solving for the new
// reserve r_k that reprices outcome k to its post-trade target via
// Newton-Raphson, matching the "solve Sigma f_i = 0" contract in
// spec.md §4.C.
type PMAMM struct {
	cfg KernelConfig
}

func (k *PMAMM) Kind() market.AMMKind { return market.AMMPMAMM }

// reserves reconstructs each outcome's reserve from its tracked
// balance: r_i = L_parameter + balance_i, so growing balance_i (more
// bought) lowers its implied price, matching a CFMM's depletion
// behavior without the core needing a second stored array.
func (k *PMAMM) reserves(snap market.ProposalSnapshot) []fx.Fx {
	L := snap.LParameterOrDefault()
	out := make([]fx.Fx, len(snap.Balances))
	for i, bal := range snap.Balances {
		out[i] = fx.Must(L.Add(fx.FromInt64(int64(bal))))
	}
	return out
}

func pricesFromReserves(L fx.Fx, reserves []fx.Fx) ([]fx.Fx, error) {
	inv := make([]fx.Fx, len(reserves))
	for i, r := range reserves {
		v, err := L.Div(r)
		if err != nil {
			return nil, err
		}
		inv[i] = v
	}
	total, err := sumFx(inv)
	if err != nil {
		return nil, err
	}
	prices := make([]fx.Fx, len(inv))
	for i, v := range inv {
		p, err := v.Div(total)
		if err != nil {
			return nil, err
		}
		prices[i] = p
	}
	return prices, nil
}

func (k *PMAMM) Quote(p *market.Proposal, outcome int) (Quote, error) {
	p.RLock()
	snap := p.Snapshot()
	p.RUnlock()
	if outcome < 0 || outcome >= snap.Outcomes {
		return Quote{}, apperr.New(apperr.InvalidOutcome, "outcome out of range")
	}
	prices, err := pricesFromReserves(snap.LParameterOrDefault(), k.reserves(snap))
	if err != nil {
		return Quote{}, err
	}
	return Quote{Price: prices[outcome]}, nil
}

// solveReserve finds the new reserve r_k such that p_k(r_k) equals
// targetPrice, holding every other reserve fixed, via Newton-Raphson
// on f(r) = L/r - targetPrice * Sigma(L/r_j with r_k=r). Convergence
// target per spec.md §4.A: <=10 iterations, residual <=1e-12.
func solveReserve(L, rCurrent, othersSumInv, targetPrice fx.Fx) (fx.Fx, error) {
	f := func(r fx.Fx) (fx.Fx, error) {
		invR, err := L.Div(r)
		if err != nil {
			return fx.Zero, err
		}
		total, err := invR.Add(othersSumInv)
		if err != nil {
			return fx.Zero, err
		}
		lhs, err := invR.Div(total)
		if err != nil {
			return fx.Zero, err
		}
		return lhs.Sub(targetPrice)
	}
	fp := func(r fx.Fx) (fx.Fx, error) {
		// Numerical derivative; the closed form is a nested quotient
		// rule and the quadrature/Newton primitives in pkg/fx already
		// expect callers to supply f' directly, so a small centered
		// difference keeps this kernel self-contained.
		h := fx.Must(fx.FromString("0.0001"))
		rPlus, err := r.Add(h)
		if err != nil {
			return fx.Zero, err
		}
		rMinus, err := r.Sub(h)
		if err != nil {
			return fx.Zero, err
		}
		fPlus, err := f(rPlus)
		if err != nil {
			return fx.Zero, err
		}
		fMinus, err := f(rMinus)
		if err != nil {
			return fx.Zero, err
		}
		diff, err := fPlus.Sub(fMinus)
		if err != nil {
			return fx.Zero, err
		}
		twoH, err := h.Mul(fx.FromInt64(2))
		if err != nil {
			return fx.Zero, err
		}
		return diff.Div(twoH)
	}

	tol := fx.Must(fx.FromString("0.000000000001"))
	return fx.NewtonRaphson(f, fp, rCurrent, tol, fx.MaxNewtonIter)
}

func (k *PMAMM) SimulateSwap(p *market.Proposal, outcome int, size fx.Fx, isBuy bool) (SwapSimulation, error) {
	if err := market.ValidateTradeSize(size); err != nil {
		return SwapSimulation{}, err
	}
	p.RLock()
	snap := p.Snapshot()
	p.RUnlock()
	if outcome < 0 || outcome >= snap.Outcomes {
		return SwapSimulation{}, apperr.New(apperr.InvalidOutcome, "outcome out of range")
	}

	L := snap.LParameterOrDefault()
	reserves := k.reserves(snap)
	before, err := pricesFromReserves(L, reserves)
	if err != nil {
		return SwapSimulation{}, err
	}

	othersSumInv := fx.Zero
	for i, r := range reserves {
		if i == outcome {
			continue
		}
		v, err := L.Div(r)
		if err != nil {
			return SwapSimulation{}, err
		}
		othersSumInv, err = othersSumInv.Add(v)
		if err != nil {
			return SwapSimulation{}, err
		}
	}

	// A buy of outcome k pushes its implied price up toward 1; a sell
	// pushes it down toward 0. The target nudges proportionally to
	// trade size relative to total liquidity.
	nudge, err := fx.MulDiv(size, fx.FromInt64(1), fx.FromInt64(int64(snap.TotalLiquidity)+1))
	if err != nil {
		return SwapSimulation{}, err
	}
	var target fx.Fx
	if isBuy {
		target, err = before[outcome].Add(nudge)
	} else {
		target, err = before[outcome].Sub(nudge)
	}
	if err != nil {
		return SwapSimulation{}, err
	}
	if target.Sign() <= 0 {
		target = fx.Must(fx.FromString("0.0001"))
	}
	if target.Cmp(fx.One) >= 0 {
		target = fx.Must(fx.FromString("0.9999"))
	}

	newReserve, err := solveReserve(L, reserves[outcome], othersSumInv, target)
	if err != nil {
		return SwapSimulation{}, err
	}
	reserves[outcome] = newReserve
	after, err := pricesFromReserves(L, reserves)
	if err != nil {
		return SwapSimulation{}, err
	}

	return SwapSimulation{ImpactPrice: before[outcome], NewPrice: after[outcome]}, nil
}

func (k *PMAMM) ApplySwap(p *market.Proposal, outcome int, size fx.Fx, isBuy bool, slotsElapsed uint64) (SwapResult, error) {
	sim, err := k.SimulateSwap(p, outcome, size, isBuy)
	if err != nil {
		return SwapResult{}, err
	}

	var result SwapResult
	err = p.WithLock(func(p *market.Proposal) error {
		if err := checkFeeBps(p.FeeBps, k.cfg.MaxFeeBps); err != nil {
			return err
		}

		delta := uint64(size.ToMicro() / market.MicroUnit)
		if delta == 0 {
			delta = 1
		}
		if isBuy {
			p.Balances[outcome] += delta
		} else {
			if p.Balances[outcome] < delta {
				return apperr.New(apperr.InsufficientFunds, "insufficient outcome inventory to sell")
			}
			p.Balances[outcome] -= delta
		}

		snap := p.Snapshot()
		newPrices, err := pricesFromReserves(snap.LParameterOrDefault(), k.reserves(snap))
		if err != nil {
			return err
		}

		oldPrices := append([]uint64(nil), p.Prices...)
		for i, px := range newPrices {
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

		notional, err := sim.NewPrice.Sub(sim.ImpactPrice)
		if err != nil {
			return err
		}
		notional = notional.Abs()
		fee, err := applyFee(notional, p.FeeBps)
		if err != nil {
			return err
		}

		p.TotalVolume += delta
		result = SwapResult{ExecPrice: fx.FromMicro(p.Prices[outcome]), FeeAmount: fee}
		return nil
	})
	return result, err
}

func (k *PMAMM) InvariantOK(p *market.Proposal) bool {
	p.RLock()
	prices := append([]uint64(nil), p.Prices...)
	p.RUnlock()
	return checkPriceSumInvariant(prices) == nil
}
