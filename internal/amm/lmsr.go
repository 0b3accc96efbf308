package amm

import (
	"versecore/internal/apperr"
	"versecore/internal/market"
	"versecore/pkg/fx"
)

// LMSR implements the logarithmic market scoring rule kernel
// (spec.md §4.C): cost function C(q) = b * ln(Sigma exp(qi/b)),
// spot price pi = exp(qi/b) / Sigma exp(qj/b). Used for N=2 always,
// and permitted up to N<=8 on the fast path.
type LMSR struct {
	cfg KernelConfig
}

func (k *LMSR) Kind() market.AMMKind { return market.AMMLMSR }

// exponents computes exp(qi/b) for every outcome, using the
// numerical-stability trick of subtracting max(qj/b) before
// exponentiating (spec.md §4.C).
func (k *LMSR) exponents(snap market.ProposalSnapshot) ([]fx.Fx, error) {
	b := snap.BValueOrDefault()
	scaled := make([]fx.Fx, len(snap.Balances))
	var maxScaled fx.Fx
	for i, bal := range snap.Balances {
		q := fx.FromInt64(int64(bal))
		ratio, err := q.Div(b)
		if err != nil {
			return nil, err
		}
		scaled[i] = ratio
		if i == 0 || ratio.Cmp(maxScaled) > 0 {
			maxScaled = ratio
		}
	}

	exps := make([]fx.Fx, len(scaled))
	for i, s := range scaled {
		shifted, err := s.Sub(maxScaled)
		if err != nil {
			return nil, err
		}
		e, err := fx.ExpApprox(shifted)
		if err != nil {
			return nil, err
		}
		exps[i] = e
	}
	return exps, nil
}

func sumFx(vals []fx.Fx) (fx.Fx, error) {
	sum := fx.Zero
	var err error
	for _, v := range vals {
		sum, err = sum.Add(v)
		if err != nil {
			return fx.Zero, err
		}
	}
	return sum, nil
}

func (k *LMSR) Quote(p *market.Proposal, outcome int) (Quote, error) {
	p.RLock()
	snap := p.Snapshot()
	p.RUnlock()
	if outcome < 0 || outcome >= snap.Outcomes {
		return Quote{}, apperr.New(apperr.InvalidOutcome, "outcome out of range")
	}

	exps, err := k.exponents(snap)
	if err != nil {
		return Quote{}, err
	}
	total, err := sumFx(exps)
	if err != nil {
		return Quote{}, err
	}
	price, err := exps[outcome].Div(total)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Price: price}, nil
}

// cost computes C(q) = b * ln(Sigma exp((qi-max)/b)) + max, i.e. the
// shifted log-sum-exp rescaled back by the subtracted max, which keeps
// the stability trick exact rather than approximate.
func (k *LMSR) cost(snap market.ProposalSnapshot) (fx.Fx, error) {
	b := snap.BValueOrDefault()
	exps, err := k.exponents(snap)
	if err != nil {
		return fx.Zero, err
	}
	total, err := sumFx(exps)
	if err != nil {
		return fx.Zero, err
	}
	lnTotal, err := fx.LnApprox(total)
	if err != nil {
		return fx.Zero, err
	}

	var maxScaled fx.Fx
	for i, bal := range snap.Balances {
		q := fx.FromInt64(int64(bal))
		ratio, err := q.Div(b)
		if err != nil {
			return fx.Zero, err
		}
		if i == 0 || ratio.Cmp(maxScaled) > 0 {
			maxScaled = ratio
		}
	}

	bLnTotal, err := b.Mul(lnTotal)
	if err != nil {
		return fx.Zero, err
	}
	bMax, err := b.Mul(maxScaled)
	if err != nil {
		return fx.Zero, err
	}
	return bLnTotal.Add(bMax)
}

func (k *LMSR) SimulateSwap(p *market.Proposal, outcome int, size fx.Fx, isBuy bool) (SwapSimulation, error) {
	if err := market.ValidateTradeSize(size); err != nil {
		return SwapSimulation{}, err
	}
	p.RLock()
	snap := p.Snapshot()
	p.RUnlock()
	if outcome < 0 || outcome >= snap.Outcomes {
		return SwapSimulation{}, apperr.New(apperr.InvalidOutcome, "outcome out of range")
	}

	before, err := k.Quote(p, outcome)
	if err != nil {
		return SwapSimulation{}, err
	}

	hypothetical := snap
	hypothetical.Balances = append([]uint64(nil), snap.Balances...)
	delta := uint64(size.ToMicro() / market.MicroUnit)
	if delta == 0 {
		delta = 1
	}
	if isBuy {
		hypothetical.Balances[outcome] += delta
	} else if hypothetical.Balances[outcome] >= delta {
		hypothetical.Balances[outcome] -= delta
	}

	exps, err := k.exponents(hypothetical)
	if err != nil {
		return SwapSimulation{}, err
	}
	total, err := sumFx(exps)
	if err != nil {
		return SwapSimulation{}, err
	}
	newPrice, err := exps[outcome].Div(total)
	if err != nil {
		return SwapSimulation{}, err
	}

	return SwapSimulation{ImpactPrice: before.Price, NewPrice: newPrice}, nil
}

// ApplySwap mutates the proposal: updates balances, charges a fee on
// the cost-function delta, refreshes every outcome's price, and
// re-verifies the invariants from spec.md §4.C. ExecPrice is the traded
// outcome's refreshed price.
func (k *LMSR) ApplySwap(p *market.Proposal, outcome int, size fx.Fx, isBuy bool, slotsElapsed uint64) (SwapResult, error) {
	if err := market.ValidateTradeSize(size); err != nil {
		return SwapResult{}, err
	}

	var result SwapResult
	err := p.WithLock(func(p *market.Proposal) error {
		if outcome < 0 || outcome >= p.Outcomes {
			return apperr.New(apperr.InvalidOutcome, "outcome out of range")
		}
		if err := checkFeeBps(p.FeeBps, k.cfg.MaxFeeBps); err != nil {
			return err
		}

		before := p.Snapshot()
		costBefore, err := k.cost(before)
		if err != nil {
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

		after := p.Snapshot()
		costAfter, err := k.cost(after)
		if err != nil {
			return err
		}

		notional, err := costAfter.Sub(costBefore)
		if err != nil {
			return err
		}
		notional = notional.Abs()

		fee, err := applyFee(notional, p.FeeBps)
		if err != nil {
			return err
		}

		exps, err := k.exponents(after)
		if err != nil {
			return err
		}
		total, err := sumFx(exps)
		if err != nil {
			return err
		}

		oldPrices := append([]uint64(nil), p.Prices...)
		for i := range p.Prices {
			px, err := exps[i].Div(total)
			if err != nil {
				return err
			}
			// px is a ratio in [0,1]; ToMicro() on a ratio-valued Fx
			// yields its micro-unit representation directly.
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

		p.TotalVolume += delta
		result = SwapResult{ExecPrice: fx.FromMicro(p.Prices[outcome]), FeeAmount: fee}
		return nil
	})
	return result, err
}

func (k *LMSR) InvariantOK(p *market.Proposal) bool {
	p.RLock()
	prices := append([]uint64(nil), p.Prices...)
	p.RUnlock()
	return checkPriceSumInvariant(prices) == nil
}
