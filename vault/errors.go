package vault

import "errors"

var (
	errNilState               = errors.New("vault engine: state not configured")
	ErrInvalidAmount          = errors.New("vault engine: amount must be positive")
	ErrUnsupportedChain       = errors.New("vault engine: chain not registered")
	ErrUnknownPeer            = errors.New("vault engine: origin vault does not match registered peer")
	ErrSelfMessage            = errors.New("vault engine: inbound message from local chain")
	ErrInsufficientFeeBudget  = errors.New("vault engine: fee budget below per-destination minimum")
	ErrInsufficientCollateral = errors.New("vault engine: insufficient collateral")
	ErrInsufficientSupplied   = errors.New("vault engine: insufficient supplied balance")
	ErrExceedsCreditLine      = errors.New("vault engine: borrow exceeds credit line")
	ErrHealthCheckFailed      = errors.New("vault engine: health factor below 1")
	ErrRepayExceedsDebt       = errors.New("vault engine: repay exceeds recorded debt")
	ErrInsufficientLiquidity  = errors.New("vault engine: insufficient pool liquidity")
	ErrNoDebtToRepay          = errors.New("vault engine: no outstanding debt to repay")
	ErrNotLiquidatable        = errors.New("vault engine: position not eligible for liquidation")
	ErrInvalidPoolTotals      = errors.New("vault engine: pool utilization exceeds supplied total")
	ErrNotAuthorized          = errors.New("vault registry: caller not authorized")
	ErrChainExists            = errors.New("vault registry: chain already registered")
	ErrInvalidChain           = errors.New("vault registry: chain tag and vault address required")
)
