package market

import (
	"sync"

	"versecore/internal/apperr"
	"versecore/pkg/fx"
)

// LeverageTier maps an outcome count to the maximum leverage permitted
// for proposals with that many outcomes (spec.md §3: "leverage tiers
// [(outcome_count, max_leverage)...]").
type LeverageTier struct {
	OutcomeCount int     `yaml:"outcome_count"`
	MaxLeverage  fx.Fx   `yaml:"-"`
	MaxLeverageStr string `yaml:"max_leverage"`
}

// GlobalConfigLifecycle is the process-wide config lifecycle
// (spec.md §3: "init -> active -> (optionally burned-authority)").
type GlobalConfigLifecycle int

const (
	ConfigInit GlobalConfigLifecycle = iota
	ConfigActive
	ConfigBurnedAuthority
)

func (l GlobalConfigLifecycle) String() string {
	switch l {
	case ConfigInit:
		return "Init"
	case ConfigActive:
		return "Active"
	case ConfigBurnedAuthority:
		return "BurnedAuthority"
	default:
		return "Unknown"
	}
}

// GlobalConfig is the process-wide singleton of spec.md §3: vault and
// total_oi are the only process-global mutable counters, updated under
// this single lock once per committed trade or liquidation (spec.md
// §5 "Shared-resource policy"). Everything else here is read-mostly
// and set at init/admin time.
type GlobalConfig struct {
	mu sync.RWMutex

	Lifecycle GlobalConfigLifecycle

	Vault   fx.Fx // total collateral backing the system
	TotalOI fx.Fx // aggregate open interest

	LeverageTiers []LeverageTier

	// HaltThresholds are consumed by the breaker component; carried
	// here because GlobalConfig is their canonical source
	// (spec.md §3).
	HaltThresholds HaltThresholds

	FlashLoanFeeBps uint16
}

// HaltThresholds configures the six breaker kinds (spec.md §4.F).
type HaltThresholds struct {
	MinCoverageRatioBps     uint32 `yaml:"min_coverage_ratio_bps"`
	MaxPriceVolatilityBps   uint32 `yaml:"max_price_volatility_bps"`
	MaxLiquidationsPerSlot  uint32 `yaml:"max_liquidations_per_slot"`
	OracleStalenessSlots    uint32 `yaml:"oracle_staleness_slots"`
	MaxVolumePerSlot        uint64 `yaml:"max_volume_per_slot"`
	MaxCongestionQueueDepth uint32 `yaml:"max_congestion_queue_depth"`
}

// NewGlobalConfig constructs a GlobalConfig in the Init lifecycle state
// with the supplied tiers and thresholds. Activate must be called
// before the config is used by trading operations.
func NewGlobalConfig(tiers []LeverageTier, thresholds HaltThresholds, flashLoanFeeBps uint16) *GlobalConfig {
	return &GlobalConfig{
		Lifecycle:       ConfigInit,
		Vault:           fx.Zero,
		TotalOI:         fx.Zero,
		LeverageTiers:   tiers,
		HaltThresholds:  thresholds,
		FlashLoanFeeBps: flashLoanFeeBps,
	}
}

// Activate moves Init -> Active. Only the Active lifecycle permits
// trading operations to proceed.
func (c *GlobalConfig) Activate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Lifecycle != ConfigInit {
		return apperr.Newf(apperr.InvariantViolation, "cannot activate from lifecycle %s", c.Lifecycle)
	}
	c.Lifecycle = ConfigActive
	return nil
}

// BurnAuthority moves Active -> BurnedAuthority, a terminal state after
// which tier/threshold edits are refused (irrevocable handoff of admin
// control, per spec.md §3 lifecycle).
func (c *GlobalConfig) BurnAuthority() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Lifecycle != ConfigActive {
		return apperr.Newf(apperr.InvariantViolation, "cannot burn authority from lifecycle %s", c.Lifecycle)
	}
	c.Lifecycle = ConfigBurnedAuthority
	return nil
}

// IsActive reports whether trading operations may proceed.
func (c *GlobalConfig) IsActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Lifecycle == ConfigActive || c.Lifecycle == ConfigBurnedAuthority
}

// MaxLeverageFor returns the leverage tier ceiling for a proposal with
// the given outcome count, failing InvalidOutcome if no tier covers it.
func (c *GlobalConfig) MaxLeverageFor(outcomeCount int) (fx.Fx, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.LeverageTiers {
		if t.OutcomeCount == outcomeCount {
			return t.MaxLeverage, nil
		}
	}
	return fx.Zero, apperr.Newf(apperr.InvalidOutcome, "no leverage tier configured for %d outcomes", outcomeCount)
}

// DepositVault credits the vault. It, WithdrawVault and Restore are the
// writers to it; all go through the single global lock per spec.md §5.
func (c *GlobalConfig) DepositVault(amount fx.Fx) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if amount.Sign() < 0 {
		return apperr.New(apperr.InvalidAmount, "deposit amount must be nonnegative")
	}
	sum, err := c.Vault.Add(amount)
	if err != nil {
		return err
	}
	c.Vault = sum
	return nil
}

// WithdrawVault debits the vault, failing InsufficientFunds if the
// vault does not cover amount.
func (c *GlobalConfig) WithdrawVault(amount fx.Fx) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if amount.Sign() < 0 {
		return apperr.New(apperr.InvalidAmount, "withdraw amount must be nonnegative")
	}
	if c.Vault.Cmp(amount) < 0 {
		return apperr.New(apperr.InsufficientFunds, "vault cannot cover withdrawal")
	}
	diff, err := c.Vault.Sub(amount)
	if err != nil {
		return err
	}
	c.Vault = diff
	return nil
}

// AdjustTotalOI applies a signed delta to total open interest, used by
// the position engine on open/close/liquidation.
func (c *GlobalConfig) AdjustTotalOI(delta fx.Fx) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	sum, err := c.TotalOI.Add(delta)
	if err != nil {
		return err
	}
	if sum.Sign() < 0 {
		return apperr.New(apperr.InvariantViolation, "total_oi went negative")
	}
	c.TotalOI = sum
	return nil
}

// CoverageRatioBps returns vault/total_oi expressed in bps, the input
// to the coverage breaker (spec.md §4.F). Returns 1_000_000 (fully
// covered, arbitrarily large) when total_oi is zero.
func (c *GlobalConfig) CoverageRatioBps() (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.TotalOI.IsZero() {
		return 1_000_000, nil
	}
	ratio, err := c.Vault.Div(c.TotalOI)
	if err != nil {
		return 0, err
	}
	bps, err := ratio.Mul(fx.FromInt64(10_000))
	if err != nil {
		return 0, err
	}
	v := bps.ToMicro() / 1_000_000
	if v < 0 {
		v = 0
	}
	return uint64(v), nil
}

// Snapshot returns a value copy of the counters under a read lock.
type GlobalConfigSnapshot struct {
	Lifecycle GlobalConfigLifecycle
	Vault     fx.Fx
	TotalOI   fx.Fx
}

// Restore overwrites the vault/total_oi counters with a prior
// Snapshot, used by the chain & recovery coordinator's revert
// (spec.md §4.G). Lifecycle is left untouched; reverting a chain never
// un-activates the config.
func (c *GlobalConfig) Restore(snap GlobalConfigSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Vault = snap.Vault
	c.TotalOI = snap.TotalOI
}

func (c *GlobalConfig) Snapshot() GlobalConfigSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return GlobalConfigSnapshot{Lifecycle: c.Lifecycle, Vault: c.Vault, TotalOI: c.TotalOI}
}
