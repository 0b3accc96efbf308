package liquidation

import (
	"versecore/internal/idgen"
	"versecore/internal/market"
	"versecore/internal/position"
	"versecore/pkg/fx"
)

// HealthRatioMicro implements the reference health-ratio formula:
// 1_000_000 + leveraged_pnl_ratio, where values at or below 1_000_000
// are unhealthy. health = 1 + direction*(mark-entry)/entry*leverage.
func HealthRatioMicro(snap market.PositionSnapshot, markPrice fx.Fx) (int64, error) {
	diff, err := markPrice.Sub(snap.EntryPrice)
	if err != nil {
		return 0, err
	}
	if snap.Direction == market.Short {
		diff = diff.Neg()
	}
	pnlRatio, err := diff.Div(snap.EntryPrice)
	if err != nil {
		return 0, err
	}
	leveragedPnL, err := pnlRatio.Mul(snap.EffectiveLeverage)
	if err != nil {
		return 0, err
	}
	health, err := fx.One.Add(leveragedPnL)
	if err != nil {
		return 0, err
	}
	return health.ToMicro(), nil
}

// BuildCandidate constructs a liquidation Candidate from a position
// snapshot if and only if it is currently unhealthy, mirroring
// "add_to_queue" in the reference engine: only unhealthy positions are
// admitted, and the priority score is computed at admission time.
func BuildCandidate(snap market.PositionSnapshot, proposalID idgen.ID128, markPrice fx.Fx, slot uint64) (*Candidate, bool, error) {
	healthMicro, err := HealthRatioMicro(snap, markPrice)
	if err != nil {
		return nil, false, err
	}
	if !position.IsUnhealthy(markPrice, snap) {
		return nil, false, nil
	}

	c := &Candidate{
		PositionID:       snap.ID,
		ProposalID:       proposalID,
		HealthRatioMicro: healthMicro,
		Size:             snap.Size,
		Leverage:         snap.EffectiveLeverage,
		EntryPrice:       snap.EntryPrice,
		LiquidationPrice: snap.LiquidationPrice,
		IsLong:           snap.Direction == market.Long,
		AddedSlot:        slot,
	}
	c.PriorityScore = PriorityScore(healthMicro, snap.Size, snap.EffectiveLeverage)
	return c, true, nil
}
