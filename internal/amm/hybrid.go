package amm

import (
	"versecore/internal/apperr"
	"versecore/internal/market"
	"versecore/pkg/fx"
)

// Hybrid routes to one of the other three kernels per a fixed,
// per-market configuration (spec.md §4.C): "Routes to one of the above
// per-market by a fixed configuration; for composite operations uses
// the chosen kernel for quote and a second kernel only when explicitly
// configured." Selected for any outcome count the other three
// selection rules don't cover (N=1, N>20 with no continuous flag).
type Hybrid struct {
	cfg KernelConfig

	// Route is the primary kernel this Hybrid proposal delegates to.
	Route market.AMMKind
	// SecondaryRoute is consulted only by composite operations that
	// explicitly ask for it (e.g. a cross-check quote); zero value
	// (AMMUnknown) means none configured.
	SecondaryRoute market.AMMKind
}

// NewHybrid constructs a Hybrid kernel delegating to route, optionally
// with a secondary route for composite operations.
func NewHybrid(cfg KernelConfig, route, secondary market.AMMKind) (*Hybrid, error) {
	if route == market.AMMHybrid || route == market.AMMUnknown {
		return nil, apperr.New(apperr.InvariantViolation, "hybrid route must be a concrete, non-hybrid kernel")
	}
	return &Hybrid{cfg: cfg, Route: route, SecondaryRoute: secondary}, nil
}

func (k *Hybrid) Kind() market.AMMKind { return market.AMMHybrid }

func (k *Hybrid) primary() (Kernel, error) {
	return ForKind(k.Route, k.cfg)
}

func (k *Hybrid) Quote(p *market.Proposal, outcome int) (Quote, error) {
	primary, err := k.primary()
	if err != nil {
		return Quote{}, err
	}
	return primary.Quote(p, outcome)
}

func (k *Hybrid) SimulateSwap(p *market.Proposal, outcome int, size fx.Fx, isBuy bool) (SwapSimulation, error) {
	primary, err := k.primary()
	if err != nil {
		return SwapSimulation{}, err
	}
	return primary.SimulateSwap(p, outcome, size, isBuy)
}

func (k *Hybrid) ApplySwap(p *market.Proposal, outcome int, size fx.Fx, isBuy bool, slotsElapsed uint64) (SwapResult, error) {
	primary, err := k.primary()
	if err != nil {
		return SwapResult{}, err
	}
	return primary.ApplySwap(p, outcome, size, isBuy, slotsElapsed)
}

func (k *Hybrid) InvariantOK(p *market.Proposal) bool {
	primary, err := k.primary()
	if err != nil {
		return false
	}
	return primary.InvariantOK(p)
}

// SecondaryQuote consults the secondary route, failing InvariantViolation
// if none is configured. Used by composite operations (spec.md §4.C)
// that want a cross-check quote from a different kernel shape.
func (k *Hybrid) SecondaryQuote(p *market.Proposal, outcome int) (Quote, error) {
	if k.SecondaryRoute == market.AMMUnknown {
		return Quote{}, apperr.New(apperr.InvariantViolation, "hybrid: no secondary route configured")
	}
	secondary, err := ForKind(k.SecondaryRoute, k.cfg)
	if err != nil {
		return Quote{}, err
	}
	return secondary.Quote(p, outcome)
}
