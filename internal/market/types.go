// Package market implements the core entities and invariants of
// spec.md §3/§4.B: Proposal (market), Position, Verse, and
// GlobalConfig, along with the state-transition primitives that keep
// them valid.
package market

import (
	"versecore/internal/idgen"
	"versecore/pkg/fx"
)

// AMMKind selects which pricing kernel a Proposal is quoted by
// (spec.md §4.C). The set is closed at four variants by design
// (spec.md §9): a tagged dispatch, not open interfaces.
type AMMKind int

const (
	AMMUnknown AMMKind = iota
	AMMLMSR
	AMMPMAMM
	AMML2AMM
	AMMHybrid
)

func (k AMMKind) String() string {
	switch k {
	case AMMLMSR:
		return "LMSR"
	case AMMPMAMM:
		return "PMAMM"
	case AMML2AMM:
		return "L2AMM"
	case AMMHybrid:
		return "Hybrid"
	default:
		return "Unknown"
	}
}

// SelectAMMKind implements the spec.md §4.C selection rule at market
// creation: N=2 -> LMSR; 3<=N<=20 -> PMAMM; continuous -> L2AMM;
// else -> Hybrid. Continuous markets are signalled by outcomes==0.
func SelectAMMKind(outcomes int) AMMKind {
	switch {
	case outcomes == 0:
		return AMML2AMM
	case outcomes == 2:
		return AMMLMSR
	case outcomes >= 3 && outcomes <= 20:
		return AMMPMAMM
	default:
		return AMMHybrid
	}
}

// ProposalState is the Proposal state machine from spec.md §4.B.
type ProposalState int

const (
	StateActive ProposalState = iota
	StatePaused
	StateResolving
	StateResolved
	StateHalted
)

func (s ProposalState) String() string {
	switch s {
	case StateActive:
		return "Active"
	case StatePaused:
		return "Paused"
	case StateResolving:
		return "Resolving"
	case StateResolved:
		return "Resolved"
	case StateHalted:
		return "Halted"
	default:
		return "Unknown"
	}
}

// VerseStatus is the Verse hierarchy status from spec.md §3.
type VerseStatus int

const (
	VerseActive VerseStatus = iota
	VerseHalted
	VerseDraining
)

func (s VerseStatus) String() string {
	switch s {
	case VerseActive:
		return "Active"
	case VerseHalted:
		return "Halted"
	case VerseDraining:
		return "Draining"
	default:
		return "Unknown"
	}
}

// Direction of a position.
type Direction bool

const (
	Short Direction = false
	Long  Direction = true
)

// NOutcomesFast is the fast-path outcome cap (spec.md §3); NMaxOutcomes
// is the overall cap.
const (
	NOutcomesFast = 8
	NMaxOutcomes  = 20
)

// MaxL2Buckets is the spec.md §4.C cap on discretized buckets backing
// a continuous-outcome (AMML2AMM) proposal.
const MaxL2Buckets = 100

// PriceSumToleranceBps is epsilon for Sigma prices[i] ~= 1e6 (spec.md §3/§8).
const PriceSumToleranceBps = 100

// MicroUnit is the scale for prices/probabilities at system boundaries.
const MicroUnit = 1_000_000

// ProposalID/VerseID/PositionID alias the shared id types for clarity
// at call sites.
type ProposalID = idgen.ID128
type VerseID = idgen.ID128
type PositionID = idgen.ID256

// FundingState is opaque to the core (spec.md §3: "opaque to core;
// provided by D"); carried as an untyped blob so component D can stash
// whatever funding-rate bookkeeping it needs without the market package
// depending on it.
type FundingState struct {
	CumulativeIndex fx.Fx
	LastUpdatedSlot uint64
}
