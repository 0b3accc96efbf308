package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"versecore/internal/config"
	"versecore/internal/market"
	"versecore/pkg/fx"
)

func validFile() config.File {
	return config.File{
		LeverageTiers: []config.LeverageTierYAML{
			{OutcomeCount: 2, MaxLeverage: "20"},
			{OutcomeCount: 4, MaxLeverage: "10"},
		},
		HaltThresholds: market.HaltThresholds{
			MinCoverageRatioBps:   5000,
			MaxPriceVolatilityBps: 2000,
		},
		FlashLoanFeeBps: 30,
	}
}

func TestFromFileBuildsGlobalConfigWithLeverageTiers(t *testing.T) {
	cfg, err := config.FromFile(validFile())
	require.NoError(t, err)
	require.Equal(t, market.ConfigInit, cfg.Snapshot().Lifecycle)

	max, err := cfg.MaxLeverageFor(2)
	require.NoError(t, err)
	require.Equal(t, 0, max.Cmp(fx.FromInt64(20)))

	max, err = cfg.MaxLeverageFor(4)
	require.NoError(t, err)
	require.Equal(t, 0, max.Cmp(fx.FromInt64(10)))

	_, err = cfg.MaxLeverageFor(3)
	require.Error(t, err)
}

func TestFromFileCarriesThresholdsAndFeeBpsThrough(t *testing.T) {
	f := validFile()
	cfg, err := config.FromFile(f)
	require.NoError(t, err)
	require.Equal(t, uint32(5000), cfg.HaltThresholds.MinCoverageRatioBps)
	require.Equal(t, uint32(2000), cfg.HaltThresholds.MaxPriceVolatilityBps)
	require.Equal(t, uint16(30), cfg.FlashLoanFeeBps)
}

func TestFromFileRejectsMalformedMaxLeverage(t *testing.T) {
	f := validFile()
	f.LeverageTiers[0].MaxLeverage = "not-a-number"
	_, err := config.FromFile(f)
	require.Error(t, err)
}

func TestFromFileStartsInactive(t *testing.T) {
	cfg, err := config.FromFile(validFile())
	require.NoError(t, err)
	require.False(t, cfg.IsActive())
	require.NoError(t, cfg.Activate())
	require.True(t, cfg.IsActive())
}
