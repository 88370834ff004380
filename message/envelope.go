package message

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

var (
	errNilEnvelope    = errors.New("message: nil envelope")
	errInvalidKind    = errors.New("message: invalid action kind")
	errMissingOrigin  = errors.New("message: origin chain required")
	errMissingAmount  = errors.New("message: amount required")
	errMissingSnap    = errors.New("message: absolute sync requires a snapshot")
	errMissingPool    = errors.New("message: liquidity update requires pool totals")
	errNegativeAmount = errors.New("message: amount must not be negative")
)

// Snapshot carries the full recorded position for the originating chain. It is
// only present on absolute-sync envelopes and replaces, never accumulates onto,
// the destination's recorded values.
type Snapshot struct {
	Collateral *big.Int
	Borrowed   *big.Int
	Supplied   *big.Int
}

// PoolTotals carries the originating chain's liquidity pool accounting for
// liquidity-update envelopes.
type PoolTotals struct {
	Supplied *big.Int
	Utilized *big.Int
}

// PriceSample is an optional oracle observation attached at broadcast time so
// that destinations without a live feed can still track the origin's pricing.
type PriceSample struct {
	// Rate is a decimal string to keep the wire form independent of any one
	// numeric representation.
	Rate      string
	UpdatedAt int64
}

// Envelope is the canonical cross-chain action payload. It exists only in
// transit; destinations persist nothing beyond the ID once applied.
type Envelope struct {
	ID          [32]byte
	Nonce       uint64
	User        common.Address
	Kind        ActionKind
	OriginChain string
	// Amount is the delta applied by incremental kinds. Unused for absolute
	// sync and liquidity updates.
	Amount    *big.Int
	Snapshot  *Snapshot
	Pool      *PoolTotals
	Price     *PriceSample
	Timestamp int64
}

// Validate checks the structural invariants an envelope must satisfy before it
// may be encoded or applied.
func (e *Envelope) Validate() error {
	if e == nil {
		return errNilEnvelope
	}
	if !e.Kind.Valid() {
		return errInvalidKind
	}
	if strings.TrimSpace(e.OriginChain) == "" {
		return errMissingOrigin
	}
	switch {
	case e.Kind.Incremental():
		if e.Amount == nil {
			return errMissingAmount
		}
		if e.Amount.Sign() < 0 {
			return errNegativeAmount
		}
	case e.Kind == KindAbsoluteSync:
		if e.Snapshot == nil || e.Snapshot.Collateral == nil || e.Snapshot.Borrowed == nil || e.Snapshot.Supplied == nil {
			return errMissingSnap
		}
	case e.Kind == KindLiquidityUpdate:
		if e.Pool == nil || e.Pool.Supplied == nil || e.Pool.Utilized == nil {
			return errMissingPool
		}
	}
	return nil
}

// DeriveID computes the deterministic message identifier from the per-origin
// nonce and the envelope context. The nonce increases monotonically on the
// origin so uniqueness holds without cross-chain coordination.
func DeriveID(originChain string, nonce uint64, user common.Address, kind ActionKind, amount *big.Int, timestamp int64) [32]byte {
	data := make([]byte, 0, 96)
	data = append(data, []byte(strings.TrimSpace(originChain))...)
	data = append(data, byte(kind))
	data = append(data, user.Bytes()...)
	data = append(data, new(big.Int).SetUint64(nonce).Bytes()...)
	if amount != nil {
		data = append(data, amount.Bytes()...)
	}
	data = append(data, big.NewInt(timestamp).Bytes()...)
	return sha256.Sum256(data)
}

type storedEnvelope struct {
	ID             [32]byte
	Nonce          uint64
	User           common.Address
	Kind           uint8
	OriginChain    string
	Amount         *big.Int
	SnapCollateral *big.Int
	SnapBorrowed   *big.Int
	SnapSupplied   *big.Int
	PoolSupplied   *big.Int
	PoolUtilized   *big.Int
	HasSnapshot    bool
	HasPool        bool
	PriceRate      string
	PriceUpdatedAt uint64
	Timestamp      uint64
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

// Encode renders the envelope in its canonical RLP wire form.
func Encode(e *Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	stored := storedEnvelope{
		ID:          e.ID,
		Nonce:       e.Nonce,
		User:        e.User,
		Kind:        uint8(e.Kind),
		OriginChain: strings.TrimSpace(e.OriginChain),
		Amount:      orZero(e.Amount),
		Timestamp:   uint64(e.Timestamp),
	}
	stored.SnapCollateral = big.NewInt(0)
	stored.SnapBorrowed = big.NewInt(0)
	stored.SnapSupplied = big.NewInt(0)
	stored.PoolSupplied = big.NewInt(0)
	stored.PoolUtilized = big.NewInt(0)
	if e.Snapshot != nil {
		stored.HasSnapshot = true
		stored.SnapCollateral = orZero(e.Snapshot.Collateral)
		stored.SnapBorrowed = orZero(e.Snapshot.Borrowed)
		stored.SnapSupplied = orZero(e.Snapshot.Supplied)
	}
	if e.Pool != nil {
		stored.HasPool = true
		stored.PoolSupplied = orZero(e.Pool.Supplied)
		stored.PoolUtilized = orZero(e.Pool.Utilized)
	}
	if e.Price != nil {
		stored.PriceRate = strings.TrimSpace(e.Price.Rate)
		stored.PriceUpdatedAt = uint64(e.Price.UpdatedAt)
	}
	return rlp.EncodeToBytes(stored)
}

// Decode parses a canonical wire payload back into an envelope, rejecting
// unknown action kinds and structurally invalid messages.
func Decode(payload []byte) (*Envelope, error) {
	var stored storedEnvelope
	if err := rlp.DecodeBytes(payload, &stored); err != nil {
		return nil, fmt.Errorf("message: decode envelope: %w", err)
	}
	env := &Envelope{
		ID:          stored.ID,
		Nonce:       stored.Nonce,
		User:        stored.User,
		Kind:        ActionKind(stored.Kind),
		OriginChain: stored.OriginChain,
		Amount:      stored.Amount,
		Timestamp:   int64(stored.Timestamp),
	}
	if stored.HasSnapshot {
		env.Snapshot = &Snapshot{
			Collateral: orZero(stored.SnapCollateral),
			Borrowed:   orZero(stored.SnapBorrowed),
			Supplied:   orZero(stored.SnapSupplied),
		}
	}
	if stored.HasPool {
		env.Pool = &PoolTotals{
			Supplied: orZero(stored.PoolSupplied),
			Utilized: orZero(stored.PoolUtilized),
		}
	}
	if strings.TrimSpace(stored.PriceRate) != "" {
		env.Price = &PriceSample{Rate: stored.PriceRate, UpdatedAt: int64(stored.PriceUpdatedAt)}
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// Copy returns a deep copy so callers cannot mutate shared big integers.
func (e *Envelope) Copy() *Envelope {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	}
	if e.Snapshot != nil {
		clone.Snapshot = &Snapshot{
			Collateral: new(big.Int).Set(orZero(e.Snapshot.Collateral)),
			Borrowed:   new(big.Int).Set(orZero(e.Snapshot.Borrowed)),
			Supplied:   new(big.Int).Set(orZero(e.Snapshot.Supplied)),
		}
	}
	if e.Pool != nil {
		clone.Pool = &PoolTotals{
			Supplied: new(big.Int).Set(orZero(e.Pool.Supplied)),
			Utilized: new(big.Int).Set(orZero(e.Pool.Utilized)),
		}
	}
	if e.Price != nil {
		price := *e.Price
		clone.Price = &price
	}
	return &clone
}
