package chain_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"versecore/internal/apperr"
	"versecore/internal/chain"
)

// counter is a trivial mutable value standing in for a market entity
// (Proposal/Position/GlobalConfig) for exercising pre-image revert.
type counter struct {
	value int
}

func TestRevertInSlotRestoresAllStepsInReverseAndIsIdempotent(t *testing.T) {
	c := &counter{value: 0}
	coord := chain.NewCoordinator(nil)
	ch := coord.Initiate(1)

	before1 := c.value
	c.value = 10
	_, err := ch.RecordStep("step1", func() error { c.value = before1; return nil })
	require.NoError(t, err)

	before2 := c.value
	c.value = 25
	_, err = ch.RecordStep("step2", func() error { c.value = before2; return nil })
	require.NoError(t, err)

	require.NoError(t, ch.RevertInSlot())
	require.Equal(t, 0, c.value)
	require.Equal(t, chain.Failed, ch.Status)

	// Idempotent: reverting again must not change the value or error.
	require.NoError(t, ch.RevertInSlot())
	require.Equal(t, 0, c.value)
}

func TestRecordStepRejectsPastMaxSteps(t *testing.T) {
	coord := chain.NewCoordinator(nil)
	ch := coord.Initiate(1)
	for i := 0; i < chain.MaxSteps; i++ {
		_, err := ch.RecordStep("step", func() error { return nil })
		require.NoError(t, err)
	}
	_, err := ch.RecordStep("one too many", func() error { return nil })
	require.Error(t, err)
}

func TestRequestUndoWithinWindowReverts(t *testing.T) {
	c := &counter{value: 0}
	coord := chain.NewCoordinator(nil)
	ch := coord.Initiate(100)
	c.value = 5
	_, err := ch.RecordStep("step", func() error { c.value = 0; return nil })
	require.NoError(t, err)

	require.NoError(t, coord.RequestUndo(ch.ID, 100+chain.DefaultUndoWindowSlots))
	require.Equal(t, 0, c.value)
	require.Equal(t, chain.Failed, ch.Status)
}

func TestRequestUndoPastWindowFails(t *testing.T) {
	coord := chain.NewCoordinator(nil)
	ch := coord.Initiate(100)
	_, err := ch.RecordStep("step", func() error { return nil })
	require.NoError(t, err)

	err = coord.RequestUndo(ch.ID, 100+chain.DefaultUndoWindowSlots+1)
	require.Error(t, err)
}

func TestFileRecoveryExhaustsAttemptsBeforeFailingPermanently(t *testing.T) {
	coord := chain.NewCoordinator(nil)
	ch := coord.Initiate(1)
	_, err := ch.RecordStep("step", func() error {
		return apperr.New(apperr.InvariantViolation, "vault would go negative")
	})
	require.NoError(t, err)

	for i := 0; i < chain.MaxRecoveryAttempts; i++ {
		err := coord.FileRecovery(ch.ID, 2)
		require.Error(t, err)
	}

	// One more attempt past the budget is rejected without retrying.
	err = coord.FileRecovery(ch.ID, 2)
	require.Error(t, err)
	require.NotEmpty(t, ch.FailDiagnostic)
}

func TestFileRecoveryPastTimeoutMarksTimedOut(t *testing.T) {
	coord := chain.NewCoordinator(nil)
	ch := coord.Initiate(1)
	_, err := ch.RecordStep("step", func() error { return nil })
	require.NoError(t, err)

	err = coord.FileRecovery(ch.ID, 1+chain.DefaultRecoveryTimeoutSlots+1)
	require.Error(t, err)
	require.Equal(t, chain.TimedOut, ch.Status)
}
