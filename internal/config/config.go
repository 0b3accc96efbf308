// Package config loads the process-wide GlobalConfig from a YAML file
// (spec.md §3's "leverage tiers, halt thresholds, flash-loan fee bps"),
// following the teacher pack's yaml.v3-based config loaders.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"versecore/internal/market"
	"versecore/pkg/fx"
)

// File is the on-disk shape of the engine's configuration.
type File struct {
	LeverageTiers   []LeverageTierYAML    `yaml:"leverage_tiers"`
	HaltThresholds  market.HaltThresholds `yaml:"halt_thresholds"`
	FlashLoanFeeBps uint16                `yaml:"flash_loan_fee_bps"`
}

// LeverageTierYAML mirrors market.LeverageTier but keeps max_leverage
// as the human-authored decimal string from YAML (e.g. "20") until
// Load converts it into an Fx.
type LeverageTierYAML struct {
	OutcomeCount int    `yaml:"outcome_count"`
	MaxLeverage  string `yaml:"max_leverage"`
}

// Load reads a YAML file at path and builds a GlobalConfig from it.
// The returned config is in the Init lifecycle; callers must call
// Activate before using it for trading.
func Load(path string) (*market.GlobalConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	return FromFile(f)
}

// FromFile converts an already-parsed File into a GlobalConfig,
// exported separately from Load so callers building a File
// programmatically (tests, embedded defaults) skip the filesystem.
func FromFile(f File) (*market.GlobalConfig, error) {
	tiers := make([]market.LeverageTier, len(f.LeverageTiers))
	for i, t := range f.LeverageTiers {
		maxLeverage, err := fx.FromString(t.MaxLeverage)
		if err != nil {
			return nil, fmt.Errorf("leverage tier %d: parse max_leverage %q: %w", i, t.MaxLeverage, err)
		}
		tiers[i] = market.LeverageTier{
			OutcomeCount:   t.OutcomeCount,
			MaxLeverage:    maxLeverage,
			MaxLeverageStr: t.MaxLeverage,
		}
	}

	return market.NewGlobalConfig(tiers, f.HaltThresholds, f.FlashLoanFeeBps), nil
}
