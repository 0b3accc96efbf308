// Package telemetry exposes prometheus metrics for the trading core's
// own state transitions (breaker trips, liquidations processed, queue
// depth, chain rollbacks) — internal instrumentation distinct from the
// externally-hosted monitoring exporters spec.md §1 excludes.
//
// Metrics register against a caller-supplied *prometheus.Registry
// rather than the global default, so an embedder can run several
// engine instances in one process without collector collisions.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector the core reports to. Zero value is
// not usable; construct with New.
type Metrics struct {
	BreakerTrips      *prometheus.CounterVec
	BreakerState      *prometheus.GaugeVec
	LiquidationsTotal *prometheus.CounterVec
	QueueDepth        *prometheus.GaugeVec
	ChainRollbacks    *prometheus.CounterVec
	ChainCompleted    prometheus.Counter
	SwapsTotal        *prometheus.CounterVec
	QuoteNonConverged prometheus.Counter
}

// New builds the collector set and registers it against reg. Passing
// the same reg to two Metrics instances panics on the second call, per
// prometheus.Registry.MustRegister's own contract.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "versecore_breaker_trips_total",
			Help: "Count of circuit-breaker trips, by breaker kind.",
		}, []string{"kind"}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "versecore_breaker_state",
			Help: "Current breaker state (0=Active, 1=Tripped, 2=Cooldown), by kind.",
		}, []string{"kind"}),

		LiquidationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "versecore_liquidations_total",
			Help: "Count of positions closed by the liquidation scheduler, by shard.",
		}, []string{"shard"}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "versecore_liquidation_queue_depth",
			Help: "Current candidate count in the liquidation priority queue, by shard.",
		}, []string{"shard"}),

		ChainRollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "versecore_chain_rollbacks_total",
			Help: "Count of chain reverts, by trigger (in_slot|undo|recovery).",
		}, []string{"trigger"}),

		ChainCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "versecore_chain_completed_total",
			Help: "Count of chains that reached Completed.",
		}),

		SwapsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "versecore_amm_swaps_total",
			Help: "Count of AMM swaps applied, by kernel kind.",
		}, []string{"kind"}),

		QuoteNonConverged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "versecore_quote_nonconvergence_total",
			Help: "Count of AMM quote calls whose root-finder failed to converge.",
		}),
	}

	reg.MustRegister(
		m.BreakerTrips,
		m.BreakerState,
		m.LiquidationsTotal,
		m.QueueDepth,
		m.ChainRollbacks,
		m.ChainCompleted,
		m.SwapsTotal,
		m.QuoteNonConverged,
	)
	return m
}

// stateValue maps a breaker state to the gauge encoding documented on
// BreakerState's Help string.
func stateValue(tripped, cooldown bool) float64 {
	switch {
	case tripped:
		return 1
	case cooldown:
		return 2
	default:
		return 0
	}
}

// ObserveBreakerTrip records a trip and the resulting state for kind.
func (m *Metrics) ObserveBreakerTrip(kind string) {
	m.BreakerTrips.WithLabelValues(kind).Inc()
	m.BreakerState.WithLabelValues(kind).Set(stateValue(true, false))
}

// ObserveBreakerCooldown records a breaker entering cooldown.
func (m *Metrics) ObserveBreakerCooldown(kind string) {
	m.BreakerState.WithLabelValues(kind).Set(stateValue(false, true))
}

// ObserveBreakerRecover records a breaker returning to Active.
func (m *Metrics) ObserveBreakerRecover(kind string) {
	m.BreakerState.WithLabelValues(kind).Set(stateValue(false, false))
}

// ObserveLiquidation records one closed candidate on shard.
func (m *Metrics) ObserveLiquidation(shard string) {
	m.LiquidationsTotal.WithLabelValues(shard).Inc()
}

// SetQueueDepth reports the current candidate count for shard.
func (m *Metrics) SetQueueDepth(shard string, depth int) {
	m.QueueDepth.WithLabelValues(shard).Set(float64(depth))
}

// ObserveChainRollback records a revert, tagged by what triggered it.
func (m *Metrics) ObserveChainRollback(trigger string) {
	m.ChainRollbacks.WithLabelValues(trigger).Inc()
}

// ObserveChainCompleted records a chain reaching Completed.
func (m *Metrics) ObserveChainCompleted() {
	m.ChainCompleted.Inc()
}

// ObserveSwap records one applied swap against an AMM kernel of kind.
func (m *Metrics) ObserveSwap(kind string) {
	m.SwapsTotal.WithLabelValues(kind).Inc()
}

// ObserveQuoteNonConvergence records a failed root-find during Quote.
func (m *Metrics) ObserveQuoteNonConvergence() {
	m.QuoteNonConverged.Inc()
}
