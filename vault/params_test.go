package vault

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRiskParametersNormaliseDefaults(t *testing.T) {
	params := RiskParameters{}.Normalise()
	require.Equal(t, uint64(7000), params.CollateralRatioBps)
	require.Equal(t, uint64(8000), params.LiquidationThresholdBps)
	require.Equal(t, 2*time.Minute, params.MaxQuoteAge)
	require.Zero(t, params.LiquidationBonusBps)
}

func TestRiskParametersNormaliseKeepsOverrides(t *testing.T) {
	params := RiskParameters{
		CollateralRatioBps:      6000,
		LiquidationThresholdBps: 7500,
		LiquidationBonusBps:     400,
		MaxQuoteAge:             30 * time.Second,
	}.Normalise()
	require.Equal(t, uint64(6000), params.CollateralRatioBps)
	require.Equal(t, uint64(7500), params.LiquidationThresholdBps)
	require.Equal(t, uint64(400), params.LiquidationBonusBps)
	require.Equal(t, 30*time.Second, params.MaxQuoteAge)
}

func TestPoolParametersNormalise(t *testing.T) {
	params := PoolParameters{}.Normalise()
	require.Equal(t, uint64(200), params.BaseRateBps)
	require.Equal(t, uint64(1000), params.SlopeBps)
	require.Equal(t, uint64(12_500), params.BorrowMultiplierBps)

	custom := PoolParameters{BaseRateBps: 100, SlopeBps: 500, BorrowMultiplierBps: 11_000}.Normalise()
	require.Equal(t, uint64(100), custom.BaseRateBps)
	require.Equal(t, uint64(500), custom.SlopeBps)
	require.Equal(t, uint64(11_000), custom.BorrowMultiplierBps)
}
