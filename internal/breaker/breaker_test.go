package breaker_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"versecore/internal/breaker"
	"versecore/internal/idgen"
	"versecore/internal/market"
	"versecore/pkg/fx"
)

func newMachine(t *testing.T) (*breaker.Machine, *market.GlobalConfig, *market.VerseArena, market.VerseID) {
	t.Helper()
	cfg := market.NewGlobalConfig(nil, market.HaltThresholds{MinCoverageRatioBps: 5_000}, 0)
	require.NoError(t, cfg.Activate())

	arena := market.NewVerseArena()
	rootID := idgen.NewID128()
	arena.NewRoot(rootID)

	m := breaker.NewMachine(cfg, arena, rootID, nil)
	return m, cfg, arena, rootID
}

func TestCoverageBreakerTripsBelowThresholdAndRecovers(t *testing.T) {
	m, cfg, arena, rootID := newMachine(t)

	require.NoError(t, cfg.AdjustTotalOI(fx.FromInt64(2_000_000)))
	require.NoError(t, cfg.DepositVault(fx.FromInt64(400_000)))

	require.NoError(t, m.EvaluateCoverage(1))
	require.Equal(t, breaker.StateTripped, m.StateOf(breaker.Coverage))
	require.False(t, m.AllowsOpen())
	require.True(t, m.AllowsClose()) // Coverage permits closes

	root, ok := arena.Get(rootID)
	require.True(t, ok)
	require.Equal(t, market.VerseHalted, root.StatusValue())

	require.NoError(t, cfg.DepositVault(fx.FromInt64(1_000_000))) // vault now 1_400_000
	require.NoError(t, m.EvaluateCoverage(2))
	require.Equal(t, breaker.StateActive, m.StateOf(breaker.Coverage))
	require.True(t, m.AllowsOpen())
	require.Equal(t, market.VerseActive, root.StatusValue())
}

func TestOracleFailureBlocksClosesAndRequiresManualReset(t *testing.T) {
	m, _, _, _ := newMachine(t)

	require.NoError(t, m.RecordOracleHealth(false, 1))
	require.Equal(t, breaker.StateTripped, m.StateOf(breaker.OracleFailure))
	require.False(t, m.AllowsOpen())
	require.False(t, m.AllowsClose())

	// Ticking forward many slots does not clear a manual-only breaker.
	require.NoError(t, m.Tick(10_000))
	require.Equal(t, breaker.StateTripped, m.StateOf(breaker.OracleFailure))
	require.False(t, m.AllowsClose())

	require.NoError(t, m.Reset(breaker.OracleFailure, 10_000))
	require.Equal(t, breaker.StateActive, m.StateOf(breaker.OracleFailure))
	require.True(t, m.AllowsClose())
}

func TestPriceVolatilityBreakerEntersCooldownAfterElapsedSlots(t *testing.T) {
	m, _, _, _ := newMachine(t)

	require.NoError(t, m.RecordPriceMove(2_500, 10))
	require.Equal(t, breaker.StateTripped, m.StateOf(breaker.PriceVolatility))

	require.NoError(t, m.Tick(50)) // cooldown is 100 slots, not yet elapsed
	require.Equal(t, breaker.StateTripped, m.StateOf(breaker.PriceVolatility))

	require.NoError(t, m.Tick(111)) // 10 + 100 elapsed
	require.Equal(t, breaker.StateCooldown, m.StateOf(breaker.PriceVolatility))
}

func TestLiquidationCascadeTripsOverFivePercentOfOpenInterest(t *testing.T) {
	m, cfg, _, _ := newMachine(t)
	require.NoError(t, cfg.AdjustTotalOI(fx.FromInt64(1_000_000)))

	require.NoError(t, m.RecordLiquidationVelocity(fx.FromInt64(60_000), 1))
	require.Equal(t, breaker.StateTripped, m.StateOf(breaker.LiquidationCascade))
}

func TestCoverageTripHaltsRegisteredProposal(t *testing.T) {
	m, cfg, arena, rootID := newMachine(t)

	proposal, err := market.NewProposal(idgen.NewID128(), rootID, 2, 30)
	require.NoError(t, err)
	require.NoError(t, arena.RegisterProposal(rootID, proposal))
	require.True(t, proposal.AllowsOpen())

	require.NoError(t, cfg.AdjustTotalOI(fx.FromInt64(2_000_000)))
	require.NoError(t, cfg.DepositVault(fx.FromInt64(400_000)))
	require.NoError(t, m.EvaluateCoverage(1))
	require.Equal(t, breaker.StateTripped, m.StateOf(breaker.Coverage))
	require.False(t, proposal.AllowsOpen(), "breaker trip should halt the proposal governed by the tripped verse")

	require.NoError(t, cfg.DepositVault(fx.FromInt64(1_000_000)))
	require.NoError(t, m.EvaluateCoverage(2))
	require.Equal(t, breaker.StateActive, m.StateOf(breaker.Coverage))
	require.True(t, proposal.AllowsOpen(), "recovery should restore the proposal's ability to open")
}

func TestEventsRecordEnterAndExitHalted(t *testing.T) {
	m, cfg, _, _ := newMachine(t)
	require.NoError(t, cfg.AdjustTotalOI(fx.FromInt64(2_000_000)))
	require.NoError(t, cfg.DepositVault(fx.FromInt64(400_000)))

	require.NoError(t, m.EvaluateCoverage(1))
	require.NoError(t, cfg.DepositVault(fx.FromInt64(1_000_000)))
	require.NoError(t, m.EvaluateCoverage(2))

	events := m.Events()
	require.Len(t, events, 2)
	require.True(t, events[0].Tripped)
	require.False(t, events[1].Tripped)
}
