// Package breaker implements the coverage & circuit-breaker state
// machine of spec.md §4.F: six independently tripped breakers, each
// with an Active/Tripped/Cooldown lifecycle, gating opens and closes
// and propagating Halted status through a market.VerseArena subtree.
package breaker

import (
	"sync"

	"go.uber.org/zap"

	"versecore/internal/apperr"
	"versecore/internal/market"
	"versecore/pkg/fx"
)

// Kind identifies one of the six breakers (spec.md §4.F table).
type Kind string

const (
	Coverage           Kind = "Coverage"
	PriceVolatility    Kind = "PriceVolatility"
	LiquidationCascade Kind = "LiquidationCascade"
	OracleFailure      Kind = "OracleFailure"
	Volume             Kind = "Volume"
	Congestion         Kind = "Congestion"
)

// State is a breaker's lifecycle position.
type State int

const (
	StateActive State = iota
	StateTripped
	StateCooldown
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "Active"
	case StateTripped:
		return "Tripped"
	case StateCooldown:
		return "Cooldown"
	default:
		return "Unknown"
	}
}

// cooldownSlots holds the fixed per-kind cooldown from the spec.md
// §4.F table. Coverage's 0 means it recovers the instant the
// condition clears; OracleFailure's 0 is a sentinel for "manual only"
// — Tick never auto-recovers it, only Reset does.
var cooldownSlots = map[Kind]uint64{
	Coverage:           0,
	PriceVolatility:    100,
	LiquidationCascade: 200,
	OracleFailure:      0,
	Volume:             150,
	Congestion:         50,
}

// permitsCloseWhileTripped says whether a tripped breaker still allows
// closes. Only OracleFailure blocks closes (mark price is untrusted);
// every other breaker permits unwind-only trading per spec.md §4.F.
var permitsCloseWhileTripped = map[Kind]bool{
	Coverage:           true,
	PriceVolatility:    true,
	LiquidationCascade: true,
	OracleFailure:      false,
	Volume:             true,
	Congestion:         true,
}

// breaker tracks one kind's live state.
type breaker struct {
	state         State
	trippedAtSlot uint64
}

// Event records one enter/exit Halted edge for audit (spec.md §4.F:
// "All enter-Halted edges and exit-Halted edges are recorded as
// events").
type Event struct {
	Kind    Kind
	Slot    uint64
	Tripped bool // true = entered Tripped/Halted, false = recovered
}

// Machine runs the six breakers governing one verse subtree. Coverage
// and total_oi are read from the process-global GlobalConfig; the
// Halted propagation is scoped to RootVerse and its descendants.
type Machine struct {
	mu sync.Mutex

	cfg       *market.GlobalConfig
	arena     *market.VerseArena
	rootVerse market.VerseID
	log       *zap.Logger

	breakers map[Kind]*breaker
	events   []Event

	// cascadeWindow accumulates liquidated notional for the liquidation
	// cascade breaker; cleared on each ResetCascadeWindow call so callers
	// control the averaging window's length by call cadence.
	cascadeWindowNotional fx.Fx
}

// NewMachine constructs a Machine with every breaker Active.
func NewMachine(cfg *market.GlobalConfig, arena *market.VerseArena, rootVerse market.VerseID, log *zap.Logger) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Machine{
		cfg:                   cfg,
		arena:                 arena,
		rootVerse:             rootVerse,
		log:                   log,
		breakers:              make(map[Kind]*breaker),
		cascadeWindowNotional: fx.Zero,
	}
	for _, k := range []Kind{Coverage, PriceVolatility, LiquidationCascade, OracleFailure, Volume, Congestion} {
		m.breakers[k] = &breaker{state: StateActive}
	}
	return m
}

// trip moves a breaker to Tripped (idempotent) and propagates Halted
// to the governing verse subtree.
func (m *Machine) trip(k Kind, slot uint64) error {
	b := m.breakers[k]
	wasTripped := b.state == StateTripped
	b.state = StateTripped
	b.trippedAtSlot = slot
	if !wasTripped {
		m.events = append(m.events, Event{Kind: k, Slot: slot, Tripped: true})
		m.log.Info("breaker tripped", zap.String("kind", string(k)), zap.Uint64("slot", slot))
	}
	return m.arena.Halt(m.rootVerse)
}

// recover moves a breaker to Active (idempotent) and, if no other
// breaker remains tripped, recovers the verse subtree to Active.
func (m *Machine) recover(k Kind, slot uint64) error {
	b := m.breakers[k]
	wasTripped := b.state != StateActive
	b.state = StateActive
	if wasTripped {
		m.events = append(m.events, Event{Kind: k, Slot: slot, Tripped: false})
		m.log.Info("breaker recovered", zap.String("kind", string(k)), zap.Uint64("slot", slot))
	}
	if m.anyTrippedLocked() {
		return nil
	}
	return m.arena.Recover(m.rootVerse)
}

func (m *Machine) anyTrippedLocked() bool {
	for _, b := range m.breakers {
		if b.state == StateTripped {
			return true
		}
	}
	return false
}

// EvaluateCoverage recomputes coverage_bps from the GlobalConfig and
// trips or recovers the Coverage breaker (spec.md §4.F: "coverage_bps
// < 5_000" trips, "coverage_bps >= 5_000" recovers, 0-slot cooldown).
func (m *Machine) EvaluateCoverage(slot uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	coverageBps, err := m.cfg.CoverageRatioBps()
	if err != nil {
		return err
	}
	threshold := uint64(m.cfg.HaltThresholds.MinCoverageRatioBps)
	if threshold == 0 {
		threshold = 5_000
	}
	if coverageBps < threshold {
		return m.trip(Coverage, slot)
	}
	return m.recover(Coverage, slot)
}

// RecordPriceMove feeds a single-slot price movement to the volatility
// breaker (spec.md §4.F: trip when move exceeds 2000 bps, cooldown
// 100 slots).
func (m *Machine) RecordPriceMove(moveBps uint64, slot uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	threshold := uint64(m.cfg.HaltThresholds.MaxPriceVolatilityBps)
	if threshold == 0 {
		threshold = 2_000
	}
	if moveBps > threshold {
		return m.trip(PriceVolatility, slot)
	}
	return nil
}

// RecordLiquidationVelocity feeds liquidated notional from a
// processed slot (spec.md §4.E's VelocityNotifier) into the cascade
// breaker: trips when more than 5% of total_oi liquidates inside the
// accumulation window the caller chooses by how often it resets.
func (m *Machine) RecordLiquidationVelocity(liquidatedNotional fx.Fx, slot uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sum, err := m.cascadeWindowNotional.Add(liquidatedNotional)
	if err != nil {
		return err
	}
	m.cascadeWindowNotional = sum

	snap := m.cfg.Snapshot()
	if snap.TotalOI.IsZero() {
		return nil
	}
	ratio, err := sum.Div(snap.TotalOI)
	if err != nil {
		return err
	}
	bps, err := ratio.Mul(fx.FromInt64(10_000))
	if err != nil {
		return err
	}
	if bps.ToMicro()/1_000_000 > 500 { // 5%
		return m.trip(LiquidationCascade, slot)
	}
	return nil
}

// ResetCascadeWindow clears the accumulated liquidation notional,
// called by the caller at whatever cadence defines its averaging
// window (e.g. once per slot).
func (m *Machine) ResetCascadeWindow() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cascadeWindowNotional = fx.Zero
}

// RecordOracleHealth feeds the mark-price oracle's health signal
// (spec.md §6: "confidence < 0.9, or staleness over threshold, is
// unhealthy"). OracleFailure only trips on unhealthy; recovery is
// manual via Reset, never automatic.
func (m *Machine) RecordOracleHealth(healthy bool, slot uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !healthy {
		return m.trip(OracleFailure, slot)
	}
	return nil
}

// RecordVolume feeds a slot's trading volume to the Volume breaker.
func (m *Machine) RecordVolume(volume uint64, slot uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	threshold := m.cfg.HaltThresholds.MaxVolumePerSlot
	if threshold == 0 {
		return nil
	}
	if volume > threshold {
		return m.trip(Volume, slot)
	}
	return nil
}

// RecordCongestion feeds a slot's failed-transaction counter to the
// Congestion breaker.
func (m *Machine) RecordCongestion(failedTxCount uint32, slot uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	threshold := m.cfg.HaltThresholds.MaxCongestionQueueDepth
	if threshold == 0 {
		return nil
	}
	if failedTxCount > threshold {
		return m.trip(Congestion, slot)
	}
	return nil
}

// Tick advances every auto-recoverable breaker's cooldown: a Tripped
// breaker whose cooldown has elapsed moves to Cooldown, and a
// Cooldown breaker recovers to Active once its condition has cleared
// (the caller is expected to have already called the relevant
// Record*/Evaluate* method this slot so the condition is current).
// OracleFailure is exempt; only Reset clears it.
func (m *Machine) Tick(slot uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, b := range m.breakers {
		if k == OracleFailure {
			continue
		}
		switch b.state {
		case StateCooldown:
			if err := m.recover(k, slot); err != nil {
				return err
			}
		case StateTripped:
			cd := cooldownSlots[k]
			if slot < b.trippedAtSlot+cd {
				continue
			}
			b.state = StateCooldown
		}
	}
	return nil
}

// Reset manually clears a breaker regardless of its cooldown state.
// This is the only path that clears OracleFailure (spec.md §4.F:
// "manual operator action").
func (m *Machine) Reset(k Kind, slot uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.breakers[k]; !ok {
		return apperr.Newf(apperr.InvariantViolation, "unknown breaker kind %s", k)
	}
	return m.recover(k, slot)
}

// StateOf reports a single breaker's current state.
func (m *Machine) StateOf(k Kind) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.breakers[k].state
}

// AllowsOpen reports whether new positions may open anywhere under
// the governed verse: false if any breaker is Tripped.
func (m *Machine) AllowsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.anyTrippedLocked()
}

// AllowsClose reports whether closes may proceed: true unless a
// breaker that specifically forbids closes (OracleFailure) is
// Tripped.
func (m *Machine) AllowsClose() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, b := range m.breakers {
		if b.state == StateTripped && !permitsCloseWhileTripped[k] {
			return false
		}
	}
	return true
}

// Events returns a copy of the recorded enter/exit Halted edges.
func (m *Machine) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}
