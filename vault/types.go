package vault

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Position is a user's recorded balances on one chain. Amounts are denominated
// in wei and expressed as big integers to match on-chain precision. A position
// is mutated only by validated local calls or by validated inbound messages
// addressed to its (user, chain) pair.
type Position struct {
	// User is the account the position belongs to.
	User common.Address
	// Chain is the tag of the chain whose vault recorded these balances.
	Chain string
	// Collateral is the amount locked to back borrowing.
	Collateral *big.Int
	// Borrowed is the outstanding debt recorded against the collateral.
	Borrowed *big.Int
	// Supplied is the liquidity the user has lent into the chain's pool.
	Supplied *big.Int
	// SyncNonce records the origin nonce of the last absolute sync applied to
	// this position. Incremental envelopes carrying an older nonce are stale
	// and acknowledged without effect.
	SyncNonce uint64
	// SupplyAccruedAt is the unix time supply interest was last accrued.
	SupplyAccruedAt int64
}

// Copy returns a deep copy so callers cannot mutate shared big integers.
func (p *Position) Copy() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Collateral = new(big.Int).Set(zeroIfNil(p.Collateral))
	clone.Borrowed = new(big.Int).Set(zeroIfNil(p.Borrowed))
	clone.Supplied = new(big.Int).Set(zeroIfNil(p.Supplied))
	return &clone
}

// AggregatePosition is the derived cross-chain view for a user. It is always
// recomputed as the sum of the constituent positions, never mutated directly.
type AggregatePosition struct {
	User            common.Address
	TotalCollateral *big.Int
	TotalBorrowed   *big.Int
	TotalSupplied   *big.Int
	// CreditLine is the maximum borrowable value derived from collateral value
	// and the configured collateral ratio.
	CreditLine *big.Int
	// HealthFactor is the liquidation-threshold-weighted collateral over the
	// borrowed value. MaxHealthFactor when nothing is borrowed.
	HealthFactor *big.Rat
}

// Pool captures a chain's liquidity accounting. UtilizedTotal never exceeds
// SuppliedTotal.
type Pool struct {
	Chain         string
	SuppliedTotal *big.Int
	UtilizedTotal *big.Int
	// LastAccrual is the unix time the pool indexes were last refreshed.
	LastAccrual int64
}

// AvailableLiquidity returns the supplied funds not currently lent out.
func (p *Pool) AvailableLiquidity() *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	available := new(big.Int).Sub(zeroIfNil(p.SuppliedTotal), zeroIfNil(p.UtilizedTotal))
	if available.Sign() < 0 {
		return big.NewInt(0)
	}
	return available
}

// Chain describes a registered chain: its tag, the peer vault address trusted
// to originate messages, the transport endpoint, and the collateral asset
// symbol used for oracle valuation.
type Chain struct {
	Tag      string
	Vault    common.Address
	Endpoint string
	Asset    string
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
