package amm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"versecore/internal/amm"
	"versecore/internal/idgen"
	"versecore/internal/market"
	"versecore/pkg/fx"
)

func newTestProposal(t *testing.T, outcomes int) *market.Proposal {
	t.Helper()
	p, err := market.NewProposal(idgen.NewID128(), idgen.NewID128(), outcomes, 30)
	require.NoError(t, err)
	return p
}

func TestLMSRQuoteSumsToOne(t *testing.T) {
	p := newTestProposal(t, 2)
	err := p.WithLock(func(p *market.Proposal) error {
		p.BValue = fx.FromInt64(100)
		return nil
	})
	require.NoError(t, err)

	k, err := amm.ForKind(market.AMMLMSR, amm.DefaultKernelConfig())
	require.NoError(t, err)

	q0, err := k.Quote(p, 0)
	require.NoError(t, err)
	q1, err := k.Quote(p, 1)
	require.NoError(t, err)

	sum, err := q0.Price.Add(q1.Price)
	require.NoError(t, err)
	require.InDelta(t, 1.0, float64(sum.ToMicro())/1_000_000, 0.01)
}

func TestLMSRApplySwapMovesPriceTowardBoughtOutcome(t *testing.T) {
	p := newTestProposal(t, 2)
	require.NoError(t, p.WithLock(func(p *market.Proposal) error {
		p.BValue = fx.FromInt64(10_000)
		return nil
	}))

	k, err := amm.ForKind(market.AMMLMSR, amm.DefaultKernelConfig())
	require.NoError(t, err)

	before, err := k.Quote(p, 0)
	require.NoError(t, err)

	_, err = k.ApplySwap(p, 0, fx.FromInt64(50), true, 1)
	require.NoError(t, err)

	after, err := k.Quote(p, 0)
	require.NoError(t, err)

	require.True(t, after.Price.Cmp(before.Price) > 0, "buying outcome 0 should raise its price")
	require.NoError(t, p.CheckInvariants())
}

func TestPMAMMQuoteSumsToOne(t *testing.T) {
	p := newTestProposal(t, 4)
	require.NoError(t, p.WithLock(func(p *market.Proposal) error {
		p.LParameter = fx.FromInt64(500)
		return nil
	}))

	k, err := amm.ForKind(market.AMMPMAMM, amm.DefaultKernelConfig())
	require.NoError(t, err)

	var sum fx.Fx
	for i := 0; i < 4; i++ {
		q, err := k.Quote(p, i)
		require.NoError(t, err)
		sum, err = sum.Add(q.Price)
		require.NoError(t, err)
	}
	require.InDelta(t, 1.0, float64(sum.ToMicro())/1_000_000, 0.01)
}

func TestL2AMMMassOverRangeNonNegative(t *testing.T) {
	p, err := market.NewContinuousProposal(idgen.NewID128(), idgen.NewID128(), 10, 30)
	require.NoError(t, err)

	k, err := amm.ForKind(p.Snapshot().AMMKind, amm.DefaultKernelConfig())
	require.NoError(t, err)

	q, err := k.Quote(p, 3)
	require.NoError(t, err)
	require.True(t, q.Price.Sign() >= 0)
	require.True(t, k.InvariantOK(p))
}

func TestL2AMMApplySwapReportsBucketPriceLevelAsExecPrice(t *testing.T) {
	p, err := market.NewContinuousProposal(idgen.NewID128(), idgen.NewID128(), 10, 0)
	require.NoError(t, err)

	k, err := amm.ForKind(p.Snapshot().AMMKind, amm.DefaultKernelConfig())
	require.NoError(t, err)

	result, err := k.ApplySwap(p, 3, fx.FromInt64(1), true, 1)
	require.NoError(t, err)
	// Every bucket starts at an even 1/10 share; ExecPrice must read as
	// a [0,1] price level, not the raw mass-shift magnitude.
	require.True(t, result.ExecPrice.Sign() > 0)
	require.True(t, result.ExecPrice.Cmp(fx.One) < 0)
}

func TestHybridRoutesToConfiguredKernel(t *testing.T) {
	p := newTestProposal(t, 2)
	require.NoError(t, p.WithLock(func(p *market.Proposal) error {
		p.BValue = fx.FromInt64(100)
		return nil
	}))

	h, err := amm.NewHybrid(amm.DefaultKernelConfig(), market.AMMLMSR, market.AMMUnknown)
	require.NoError(t, err)
	require.Equal(t, market.AMMHybrid, h.Kind())

	q, err := h.Quote(p, 0)
	require.NoError(t, err)
	require.True(t, q.Price.Sign() > 0)

	_, err = h.SecondaryQuote(p, 0)
	require.Error(t, err)
}

func TestCalculateFeeRejectsOversizedBps(t *testing.T) {
	_, err := amm.CalculateFee(fx.FromInt64(100), 10_001)
	require.Error(t, err)
}

func TestValidateSlippageRejectsExcessiveBuyCost(t *testing.T) {
	err := amm.ValidateSlippage(fx.FromInt64(1000), fx.FromInt64(1100), 500, true)
	require.Error(t, err)

	err = amm.ValidateSlippage(fx.FromInt64(1000), fx.FromInt64(1040), 500, true)
	require.NoError(t, err)
}

func TestCalculateTWAPWithinRange(t *testing.T) {
	history := []amm.PricePoint{
		{Price: 100, Slot: 0},
		{Price: 110, Slot: 10},
		{Price: 120, Slot: 20},
		{Price: 115, Slot: 30},
	}
	twap, err := amm.CalculateTWAP(history, 30)
	require.NoError(t, err)
	require.True(t, twap > 100 && twap < 120)
}

func TestComputeBudgetLMSRTradeCeiling(t *testing.T) {
	require.Equal(t, uint32(20_000), amm.ComputeBudget(market.AMMLMSR, amm.OpTrade))
}
