package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// TypeCollateralDeposited is emitted when a user locks collateral locally.
	TypeCollateralDeposited = "vault.collateral.deposited"
	// TypeCollateralWithdrawn is emitted when collateral leaves the vault.
	TypeCollateralWithdrawn = "vault.collateral.withdrawn"
	// TypeLoanBorrowed is emitted when a borrow passes both risk guards.
	TypeLoanBorrowed = "vault.loan.borrowed"
	// TypeLoanRepaid is emitted when recorded debt is reduced.
	TypeLoanRepaid = "vault.loan.repaid"
	// TypePositionLiquidated is emitted when an unhealthy position is closed.
	TypePositionLiquidated = "vault.position.liquidated"
	// TypeMessageApplied is emitted after an inbound envelope mutates state.
	TypeMessageApplied = "vault.message.applied"
	// TypeMessageDropped is emitted for duplicate or stale envelopes that are
	// acknowledged without effect.
	TypeMessageDropped = "vault.message.dropped"
	// TypeBalanceReconciled is emitted when a manual resync re-broadcasts the
	// current local state.
	TypeBalanceReconciled = "vault.balance.reconciled"
	// TypeLiquiditySupplied is emitted when pool liquidity is added.
	TypeLiquiditySupplied = "vault.liquidity.supplied"
	// TypeLiquidityWithdrawn is emitted when idle pool liquidity is removed.
	TypeLiquidityWithdrawn = "vault.liquidity.withdrawn"
)

func cloneAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type CollateralDeposited struct {
	User   common.Address
	Chain  string
	Amount *big.Int
}

func (CollateralDeposited) EventType() string { return TypeCollateralDeposited }

type CollateralWithdrawn struct {
	User   common.Address
	Chain  string
	Amount *big.Int
}

func (CollateralWithdrawn) EventType() string { return TypeCollateralWithdrawn }

type LoanBorrowed struct {
	User   common.Address
	Chain  string
	Amount *big.Int
}

func (LoanBorrowed) EventType() string { return TypeLoanBorrowed }

type LoanRepaid struct {
	User   common.Address
	Chain  string
	Amount *big.Int
}

func (LoanRepaid) EventType() string { return TypeLoanRepaid }

type PositionLiquidated struct {
	User       common.Address
	Liquidator common.Address
	Chain      string
	Repaid     *big.Int
	Seized     *big.Int
}

func (PositionLiquidated) EventType() string { return TypePositionLiquidated }

type MessageApplied struct {
	ID          [32]byte
	User        common.Address
	Kind        string
	OriginChain string
}

func (MessageApplied) EventType() string { return TypeMessageApplied }

type MessageDropped struct {
	ID          [32]byte
	OriginChain string
	Reason      string
}

func (MessageDropped) EventType() string { return TypeMessageDropped }

type BalanceReconciled struct {
	User         common.Address
	Chain        string
	Destinations int
}

func (BalanceReconciled) EventType() string { return TypeBalanceReconciled }

type LiquiditySupplied struct {
	User   common.Address
	Chain  string
	Amount *big.Int
}

func (LiquiditySupplied) EventType() string { return TypeLiquiditySupplied }

type LiquidityWithdrawn struct {
	User   common.Address
	Chain  string
	Amount *big.Int
}

func (LiquidityWithdrawn) EventType() string { return TypeLiquidityWithdrawn }

// Attributes renders an amount-carrying event as indexer-friendly key/value
// pairs keyed the way the gateway exposes them.
func (e CollateralDeposited) Attributes() map[string]string {
	return map[string]string{
		"user":   e.User.Hex(),
		"chain":  e.Chain,
		"amount": cloneAmount(e.Amount),
	}
}
