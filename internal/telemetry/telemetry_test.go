package telemetry_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"versecore/internal/telemetry"
)

func TestObserveBreakerTripSetsCounterAndGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.New(reg)

	m.ObserveBreakerTrip("Coverage")
	require.Equal(t, float64(1), testutil.ToFloat64(m.BreakerTrips.WithLabelValues("Coverage")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.BreakerState.WithLabelValues("Coverage")))

	m.ObserveBreakerRecover("Coverage")
	require.Equal(t, float64(0), testutil.ToFloat64(m.BreakerState.WithLabelValues("Coverage")))
}

func TestSetQueueDepthReflectsLatestValuePerShard(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.New(reg)

	m.SetQueueDepth("0", 5)
	m.SetQueueDepth("0", 3)
	m.SetQueueDepth("1", 9)

	require.Equal(t, float64(3), testutil.ToFloat64(m.QueueDepth.WithLabelValues("0")))
	require.Equal(t, float64(9), testutil.ToFloat64(m.QueueDepth.WithLabelValues("1")))
}

func TestObserveLiquidationAndChainRollbackIncrementCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.New(reg)

	m.ObserveLiquidation("2")
	m.ObserveLiquidation("2")
	require.Equal(t, float64(2), testutil.ToFloat64(m.LiquidationsTotal.WithLabelValues("2")))

	m.ObserveChainRollback("undo")
	require.Equal(t, float64(1), testutil.ToFloat64(m.ChainRollbacks.WithLabelValues("undo")))

	m.ObserveChainCompleted()
	require.Equal(t, float64(1), testutil.ToFloat64(m.ChainCompleted))
}

func TestNewRegistersAllCollectorsExactlyOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	telemetry.New(reg)

	// A second New against the same registry must panic (duplicate
	// collector registration), proving the first call actually
	// registered every collector rather than silently skipping some.
	require.Panics(t, func() { telemetry.New(reg) })
}
