package position_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"versecore/internal/amm"
	"versecore/internal/idgen"
	"versecore/internal/market"
	"versecore/internal/position"
	"versecore/pkg/fx"
)

func newConfig(t *testing.T) *market.GlobalConfig {
	t.Helper()
	cfg := market.NewGlobalConfig(
		[]market.LeverageTier{{OutcomeCount: 2, MaxLeverage: fx.FromInt64(20)}},
		market.HaltThresholds{MinCoverageRatioBps: 5_000},
		10,
	)
	require.NoError(t, cfg.Activate())
	require.NoError(t, cfg.DepositVault(fx.FromInt64(1_000_000)))
	return cfg
}

func TestOpenComputesMarginAndLiquidationPrice(t *testing.T) {
	cfg := newConfig(t)
	p, err := market.NewProposal(idgen.NewID128(), idgen.NewID128(), 2, 0)
	require.NoError(t, err)
	require.NoError(t, p.WithLock(func(p *market.Proposal) error {
		p.BValue = fx.FromInt64(100_000)
		return nil
	}))

	kernel, err := amm.ForKind(market.AMMLMSR, amm.DefaultKernelConfig())
	require.NoError(t, err)

	eng := position.NewEngine(cfg)
	pos, err := eng.Open(position.OpenParams{
		Proposal:          p,
		Kernel:            kernel,
		Outcome:           0,
		IsLong:            true,
		Size:              fx.FromInt64(100),
		RequestedLeverage: fx.FromInt64(5),
		SlotsElapsed:      1,
	})
	require.NoError(t, err)

	snap := pos.Snapshot()
	require.Equal(t, int64(20), snap.Margin.ToMicro()/1_000_000)
	require.True(t, snap.LiquidationPrice.Cmp(snap.EntryPrice) < 0, "long liquidation price should be below entry")
}

func TestOpenRejectsLeverageAboveTier(t *testing.T) {
	cfg := newConfig(t)
	p, err := market.NewProposal(idgen.NewID128(), idgen.NewID128(), 2, 0)
	require.NoError(t, err)
	kernel, err := amm.ForKind(market.AMMLMSR, amm.DefaultKernelConfig())
	require.NoError(t, err)

	eng := position.NewEngine(cfg)
	_, err = eng.Open(position.OpenParams{
		Proposal:          p,
		Kernel:            kernel,
		Outcome:           0,
		IsLong:            true,
		Size:              fx.FromInt64(100),
		RequestedLeverage: fx.FromInt64(21),
		SlotsElapsed:      1,
	})
	require.Error(t, err)
}

func TestMarkTickProfitReducesEffectiveLeverage(t *testing.T) {
	lMax := fx.FromInt64(20)
	pos, err := market.NewPosition(idgen.NewID256(), idgen.NewID128(), 0, market.Long, "trader-1",
		fx.FromInt64(100), fx.FromInt64(10), fx.FromInt64(20), fx.FromInt64(5), lMax)
	require.NoError(t, err)

	cfg := newConfig(t)
	eng := position.NewEngine(cfg)

	// A 10% favorable move should lower effective leverage below base.
	require.NoError(t, eng.MarkTick(pos, fx.FromInt64(11), lMax, 10_000))
	snap := pos.Snapshot()
	require.True(t, snap.EffectiveLeverage.Cmp(fx.FromInt64(5)) < 0)
}

func TestMarkTickLossRaisesEffectiveLeverage(t *testing.T) {
	lMax := fx.FromInt64(20)
	pos, err := market.NewPosition(idgen.NewID256(), idgen.NewID128(), 0, market.Long, "trader-1",
		fx.FromInt64(100), fx.FromInt64(10), fx.FromInt64(20), fx.FromInt64(5), lMax)
	require.NoError(t, err)

	cfg := newConfig(t)
	eng := position.NewEngine(cfg)

	require.NoError(t, eng.MarkTick(pos, fx.FromInt64(9), lMax, 10_000))
	snap := pos.Snapshot()
	require.True(t, snap.EffectiveLeverage.Cmp(fx.FromInt64(5)) > 0)
}

func TestIsUnhealthyLongBelowLiquidationPrice(t *testing.T) {
	snap := market.PositionSnapshot{
		Direction:        market.Long,
		LiquidationPrice: fx.FromInt64(9),
	}
	require.True(t, position.IsUnhealthy(fx.FromInt64(8), snap))
	require.False(t, position.IsUnhealthy(fx.FromInt64(10), snap))
}
