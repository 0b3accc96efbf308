package oracle_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"versecore/internal/apperr"
	"versecore/internal/idgen"
	"versecore/internal/oracle"
	"versecore/pkg/fx"
)

func TestMarkPriceIsHealthyRejectsLowConfidence(t *testing.T) {
	m := oracle.MarkPrice{ConfidenceBps: oracle.MinConfidenceBps - 1, TimestampSlot: 100}
	require.False(t, m.IsHealthy(100))
}

func TestMarkPriceIsHealthyRejectsStaleRead(t *testing.T) {
	m := oracle.MarkPrice{ConfidenceBps: 10_000, TimestampSlot: 100}
	require.True(t, m.IsHealthy(100+oracle.MaxStalenessSlots))
	require.False(t, m.IsHealthy(100+oracle.MaxStalenessSlots+1))
}

func TestInMemoryMarkPriceOracleReadsPushedQuote(t *testing.T) {
	o := oracle.NewInMemoryMarkPriceOracle()
	pid := idgen.NewID128()
	o.Push(oracle.MarkPrice{ProposalID: pid, Outcome: 0, PriceMicro: 500_000, ConfidenceBps: 9_900, TimestampSlot: 5})

	got, err := o.Read(pid, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(500_000), got.PriceMicro)

	_, err = o.Read(pid, 1)
	require.Error(t, err)
	require.Equal(t, apperr.StaleOracle, apperr.KindOf(err))
}

func TestInMemoryVaultDepositAndWithdraw(t *testing.T) {
	v := oracle.NewInMemoryVault()
	require.NoError(t, v.Deposit("alice", fx.FromInt64(100)))
	require.Equal(t, 0, v.BalanceOf("alice").Cmp(fx.FromInt64(100)))

	require.NoError(t, v.Withdraw("alice", fx.FromInt64(40)))
	require.Equal(t, 0, v.BalanceOf("alice").Cmp(fx.FromInt64(60)))

	err := v.Withdraw("alice", fx.FromInt64(1_000))
	require.Error(t, err)
	require.Equal(t, apperr.InsufficientFunds, apperr.KindOf(err))
}

func TestInMemoryResolutionOracleDrainsOnce(t *testing.T) {
	r := oracle.NewInMemoryResolutionOracle()
	pid := idgen.NewID128()
	r.QueueResolution(oracle.ResolutionEvent{ProposalID: pid, WinningOutcome: 1})

	evt, ok, err := r.Resolve(pid)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, evt.WinningOutcome)

	_, ok, err = r.Resolve(pid)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStaticKeeperSignalReturnsFixedSet(t *testing.T) {
	pid1, pid2 := idgen.NewID128(), idgen.NewID128()
	s := oracle.NewStaticKeeperSignal([]idgen.ID128{pid1, pid2})
	got := s.Scan()
	require.Len(t, got, 2)
}
