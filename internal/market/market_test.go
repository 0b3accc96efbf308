package market_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"versecore/internal/apperr"
	"versecore/internal/idgen"
	"versecore/internal/market"
	"versecore/pkg/fx"
)

func TestNewProposalEvenPriceSplit(t *testing.T) {
	p, err := market.NewProposal(idgen.NewID128(), idgen.NewID128(), 2, 50)
	require.NoError(t, err)
	require.NoError(t, p.CheckInvariants())
	require.Equal(t, market.AMMLMSR, p.Snapshot().AMMKind)
}

func TestNewProposalRejectsSingleOutcome(t *testing.T) {
	_, err := market.NewProposal(idgen.NewID128(), idgen.NewID128(), 1, 50)
	require.Error(t, err)
	require.Equal(t, apperr.InvalidOutcome, apperr.KindOf(err))
}

func TestSelectAMMKind(t *testing.T) {
	require.Equal(t, market.AMMLMSR, market.SelectAMMKind(2))
	require.Equal(t, market.AMMPMAMM, market.SelectAMMKind(3))
	require.Equal(t, market.AMMPMAMM, market.SelectAMMKind(20))
	require.Equal(t, market.AMMHybrid, market.SelectAMMKind(21))
	require.Equal(t, market.AMML2AMM, market.SelectAMMKind(0))
}

func TestNewContinuousProposalBuildsL2AMMBuckets(t *testing.T) {
	p, err := market.NewContinuousProposal(idgen.NewID128(), idgen.NewID128(), 10, 30)
	require.NoError(t, err)
	require.NoError(t, p.CheckInvariants())

	snap := p.Snapshot()
	require.Equal(t, market.AMML2AMM, snap.AMMKind)
	require.Equal(t, 0, snap.Outcomes)
	require.Len(t, snap.L2Buckets, 10)
	require.Len(t, snap.Prices, 10)
}

func TestNewContinuousProposalRejectsTooFewBuckets(t *testing.T) {
	_, err := market.NewContinuousProposal(idgen.NewID128(), idgen.NewID128(), 1, 30)
	require.Error(t, err)
	require.Equal(t, apperr.InvalidOutcome, apperr.KindOf(err))
}

func TestProposalStateMachine(t *testing.T) {
	p, err := market.NewProposal(idgen.NewID128(), idgen.NewID128(), 2, 0)
	require.NoError(t, err)

	require.NoError(t, p.Pause())
	require.False(t, p.AllowsOpen())
	require.True(t, p.AllowsClose())

	require.Error(t, p.Resolve(0)) // can't resolve while paused
	require.NoError(t, p.Resume())
	require.NoError(t, p.Resolve(1))
	require.False(t, p.AllowsOpen())
	require.False(t, p.AllowsClose())
}

func TestProposalHaltRecover(t *testing.T) {
	p, err := market.NewProposal(idgen.NewID128(), idgen.NewID128(), 2, 0)
	require.NoError(t, err)
	require.NoError(t, p.Halt())
	require.False(t, p.AllowsOpen())
	require.False(t, p.AllowsClose())
	require.NoError(t, p.Recover())
	require.True(t, p.AllowsOpen())
}

func TestNewPositionRejectsNegativeMargin(t *testing.T) {
	lMax := fx.FromInt64(10)
	_, err := market.NewPosition(idgen.NewID256(), idgen.NewID128(), 0, market.Long, "trader-1",
		fx.FromInt64(100), fx.FromInt64(1), fx.FromInt64(-1), fx.FromInt64(2), lMax)
	require.Error(t, err)
}

func TestNewPositionRejectsLeverageOutOfRange(t *testing.T) {
	lMax := fx.FromInt64(10)
	_, err := market.NewPosition(idgen.NewID256(), idgen.NewID128(), 0, market.Long, "trader-1",
		fx.FromInt64(100), fx.FromInt64(1), fx.FromInt64(10), fx.FromInt64(11), lMax)
	require.Error(t, err)
	require.Equal(t, apperr.LeverageExceeded, apperr.KindOf(err))
}

func TestVerseHaltPropagatesToChildren(t *testing.T) {
	arena := market.NewVerseArena()
	root := arena.NewRoot(idgen.NewID128())
	childID := idgen.NewID128()
	_, err := arena.NewChild(childID, root.ID)
	require.NoError(t, err)

	require.NoError(t, arena.Halt(root.ID))

	child, ok := arena.Get(childID)
	require.True(t, ok)
	require.Equal(t, market.VerseHalted, child.StatusValue())
	require.Equal(t, market.VerseHalted, root.StatusValue())
}

func TestSetParentReassignsChildLink(t *testing.T) {
	arena := market.NewVerseArena()
	root := arena.NewRoot(idgen.NewID128())
	oldParentID := idgen.NewID128()
	_, err := arena.NewChild(oldParentID, root.ID)
	require.NoError(t, err)
	newParentID := idgen.NewID128()
	_, err = arena.NewChild(newParentID, root.ID)
	require.NoError(t, err)
	childID := idgen.NewID128()
	_, err = arena.NewChild(childID, oldParentID)
	require.NoError(t, err)

	require.NoError(t, arena.SetParent(childID, newParentID))

	oldParent, ok := arena.Get(oldParentID)
	require.True(t, ok)
	require.NotContains(t, oldParent.Children(), childID)

	newParent, ok := arena.Get(newParentID)
	require.True(t, ok)
	require.Contains(t, newParent.Children(), childID)
}

func TestSetParentRejectsCycle(t *testing.T) {
	arena := market.NewVerseArena()
	root := arena.NewRoot(idgen.NewID128())
	childID := idgen.NewID128()
	_, err := arena.NewChild(childID, root.ID)
	require.NoError(t, err)
	grandchildID := idgen.NewID128()
	_, err = arena.NewChild(grandchildID, childID)
	require.NoError(t, err)

	err = arena.SetParent(root.ID, grandchildID)
	require.Error(t, err)
	require.Equal(t, apperr.InvariantViolation, apperr.KindOf(err))

	err = arena.SetParent(childID, childID)
	require.Error(t, err)
}

func TestGlobalConfigVaultAccounting(t *testing.T) {
	cfg := market.NewGlobalConfig(
		[]market.LeverageTier{{OutcomeCount: 2, MaxLeverage: fx.FromInt64(20)}},
		market.HaltThresholds{MinCoverageRatioBps: 10_000},
		10,
	)
	require.NoError(t, cfg.Activate())
	require.True(t, cfg.IsActive())

	require.NoError(t, cfg.DepositVault(fx.FromInt64(1000)))
	require.Error(t, cfg.WithdrawVault(fx.FromInt64(2000)))
	require.NoError(t, cfg.WithdrawVault(fx.FromInt64(500)))

	snap := cfg.Snapshot()
	require.Equal(t, int64(500), snap.Vault.ToMicro()/1_000_000)

	maxLev, err := cfg.MaxLeverageFor(2)
	require.NoError(t, err)
	require.Equal(t, int64(20), maxLev.ToMicro()/1_000_000)

	_, err = cfg.MaxLeverageFor(5)
	require.Error(t, err)
}

func TestEffectiveLeverageClampsToBounds(t *testing.T) {
	lMax := fx.FromInt64(20)
	base := fx.FromInt64(10)

	// Large profit should clamp at 1, never go negative.
	eff, err := market.EffectiveLeverage(base, 20_000, lMax)
	require.NoError(t, err)
	require.Equal(t, int64(1), eff.ToMicro()/1_000_000)

	// Moderate loss raises effective leverage but stays <= lMax.
	eff, err = market.EffectiveLeverage(base, -5_000, lMax)
	require.NoError(t, err)
	require.True(t, eff.Cmp(base) > 0)
	require.True(t, eff.Cmp(lMax) <= 0)
}

func TestValidatePriceMovementClamp(t *testing.T) {
	require.NoError(t, market.ValidatePriceMovement(100_000, 102_000, 200))
	err := market.ValidatePriceMovement(100_000, 102_010, 200)
	require.Error(t, err)
	require.Equal(t, apperr.PriceManipulation, apperr.KindOf(err))
}
