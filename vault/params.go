package vault

import "time"

// RiskParameters groups the governance controlled safety limits gating
// borrowing activity. Ratios are expressed in basis points for deterministic
// accounting.
type RiskParameters struct {
	// CollateralRatioBps caps borrowing at this share of collateral value.
	CollateralRatioBps uint64
	// LiquidationThresholdBps is the collateral weighting used by the health
	// factor. Configured independently of the collateral ratio.
	LiquidationThresholdBps uint64
	// LiquidationBonusBps is the discount applied to seized collateral.
	LiquidationBonusBps uint64
	// MaxQuoteAge bounds how old an oracle sample may be before valuation
	// calls are rejected.
	MaxQuoteAge time.Duration
}

// Normalise applies conservative defaults for unset values.
func (p RiskParameters) Normalise() RiskParameters {
	cfg := p
	if cfg.CollateralRatioBps == 0 {
		cfg.CollateralRatioBps = 7000
	}
	if cfg.LiquidationThresholdBps == 0 {
		cfg.LiquidationThresholdBps = 8000
	}
	if cfg.MaxQuoteAge <= 0 {
		cfg.MaxQuoteAge = 2 * time.Minute
	}
	return cfg
}

// PoolParameters shape the utilization-driven interest model.
type PoolParameters struct {
	// BaseRateBps is the supply rate floor applied at zero utilization.
	BaseRateBps uint64
	// SlopeBps is the supply rate increase per unit of utilization.
	SlopeBps uint64
	// BorrowMultiplierBps scales the supply rate into the borrow rate.
	BorrowMultiplierBps uint64
}

// Normalise applies the default kink-free rate curve when unset.
func (p PoolParameters) Normalise() PoolParameters {
	cfg := p
	if cfg.BaseRateBps == 0 {
		cfg.BaseRateBps = 200
	}
	if cfg.SlopeBps == 0 {
		cfg.SlopeBps = 1000
	}
	if cfg.BorrowMultiplierBps == 0 {
		cfg.BorrowMultiplierBps = 12_500
	}
	return cfg
}
