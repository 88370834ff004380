package message

import "fmt"

// ActionKind identifies the cross-chain action carried by an envelope. The set
// is closed: introducing a new kind is a compile-time decision and decoding an
// unrecognised value is rejected at the codec boundary.
type ActionKind uint8

const (
	// KindDeposit increments the origin chain's recorded collateral.
	KindDeposit ActionKind = iota + 1
	// KindWithdraw decrements the origin chain's recorded collateral.
	KindWithdraw
	// KindBorrow increments the origin chain's recorded debt.
	KindBorrow
	// KindRepay decrements the origin chain's recorded debt.
	KindRepay
	// KindAbsoluteSync replaces the origin chain's recorded position with the
	// snapshot carried by the envelope. Safe to apply repeatedly.
	KindAbsoluteSync
	// KindLiquidityUpdate replaces the origin chain's recorded pool totals.
	KindLiquidityUpdate
)

// Valid reports whether the kind is a member of the closed set.
func (k ActionKind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdraw, KindBorrow, KindRepay, KindAbsoluteSync, KindLiquidityUpdate:
		return true
	default:
		return false
	}
}

// Incremental reports whether the kind applies a signed delta to the origin
// chain's position, as opposed to replacing recorded state wholesale.
func (k ActionKind) Incremental() bool {
	switch k {
	case KindDeposit, KindWithdraw, KindBorrow, KindRepay:
		return true
	default:
		return false
	}
}

func (k ActionKind) String() string {
	switch k {
	case KindDeposit:
		return "deposit"
	case KindWithdraw:
		return "withdraw"
	case KindBorrow:
		return "borrow"
	case KindRepay:
		return "repay"
	case KindAbsoluteSync:
		return "absoluteSync"
	case KindLiquidityUpdate:
		return "liquidityUpdate"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}
