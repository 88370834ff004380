package vault

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"crossvault/events"
	"crossvault/message"
)

// Receive validates and applies one inbound payload. The transport supplies
// the origin chain tag and the sender's vault address; both must match the
// registry before the payload is even decoded into state changes.
//
// Duplicates and stale messages return nil: under an at-least-once transport
// a redelivery is an acknowledgement, not a fault.
func (e *Engine) Receive(originChain string, originVault common.Address, payload []byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	env, err := message.Decode(payload)
	if err != nil {
		e.metrics.InboundPayloadErr.Inc()
		return err
	}
	if trimmed := strings.TrimSpace(originChain); trimmed != "" && trimmed != env.OriginChain {
		e.metrics.MessagesRejected.WithLabelValues("origin_mismatch").Inc()
		return ErrUnknownPeer
	}
	return e.apply(env, originVault)
}

// ApplyEnvelope applies an already-decoded envelope. Exposed for transports
// that deliver structured envelopes rather than raw payloads.
func (e *Engine) ApplyEnvelope(env *message.Envelope, originVault common.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := env.Validate(); err != nil {
		e.metrics.InboundPayloadErr.Inc()
		return err
	}
	return e.apply(env, originVault)
}

func (e *Engine) apply(env *message.Envelope, originVault common.Address) error {
	if env.OriginChain == e.localChain {
		e.metrics.MessagesRejected.WithLabelValues("self_message").Inc()
		return ErrSelfMessage
	}
	chain, ok := e.registry.Get(env.OriginChain)
	if !ok {
		e.metrics.MessagesRejected.WithLabelValues("unsupported_chain").Inc()
		return ErrUnsupportedChain
	}
	if originVault != (common.Address{}) && originVault != chain.Vault {
		e.metrics.MessagesRejected.WithLabelValues("peer_mismatch").Inc()
		return ErrUnknownPeer
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	processed, err := e.state.HasProcessed(env.ID)
	if err != nil {
		return err
	}
	if processed {
		e.metrics.MessagesDropped.WithLabelValues("duplicate").Inc()
		e.emitter.Emit(events.MessageDropped{ID: env.ID, OriginChain: env.OriginChain, Reason: "duplicate"})
		return nil
	}

	var (
		pos     *Position
		pool    *Pool
		applied = true
	)
	switch env.Kind {
	case message.KindLiquidityUpdate:
		pool, err = e.applyLiquidityUpdate(env)
	case message.KindAbsoluteSync:
		pos, applied, err = e.applyAbsoluteSync(env)
	default:
		pos, applied, err = e.applyIncrement(env)
	}
	if err != nil {
		return err
	}
	if !applied {
		if err := e.state.CommitMessage(env.ID, nil, nil); err != nil {
			return err
		}
		e.metrics.MessagesDropped.WithLabelValues("stale").Inc()
		e.emitter.Emit(events.MessageDropped{ID: env.ID, OriginChain: env.OriginChain, Reason: "stale"})
		return nil
	}

	e.relayPrice(chain, env.Price)

	// Effect and processed marker land in one write batch so a redelivery
	// after a crash cannot double-apply the message.
	if err := e.state.CommitMessage(env.ID, pos, pool); err != nil {
		return err
	}
	e.metrics.MessagesApplied.WithLabelValues(env.Kind.String(), env.OriginChain).Inc()
	e.emitter.Emit(events.MessageApplied{
		ID:          env.ID,
		User:        env.User,
		Kind:        env.Kind.String(),
		OriginChain: env.OriginChain,
	})
	return nil
}

// applyIncrement folds a delta envelope into the origin chain's recorded
// position. Returns false when the envelope predates the position's last
// absolute sync and must be acknowledged without effect.
func (e *Engine) applyIncrement(env *message.Envelope) (*Position, bool, error) {
	pos, err := e.ensurePosition(env.OriginChain, env.User)
	if err != nil {
		return nil, false, err
	}
	if env.Nonce < pos.SyncNonce {
		return nil, false, nil
	}
	switch env.Kind {
	case message.KindDeposit:
		pos.Collateral = new(big.Int).Add(zeroIfNil(pos.Collateral), env.Amount)
	case message.KindWithdraw:
		pos.Collateral = subFloorZero(pos.Collateral, env.Amount)
	case message.KindBorrow:
		pos.Borrowed = new(big.Int).Add(zeroIfNil(pos.Borrowed), env.Amount)
	case message.KindRepay:
		pos.Borrowed = subFloorZero(pos.Borrowed, env.Amount)
	}
	return pos, true, nil
}

// applyAbsoluteSync replaces the recorded position wholesale. A snapshot whose
// nonce is below the position's last applied sync is itself stale and must be
// acknowledged without effect, so a reordered reconcile can never resurrect
// superseded state.
func (e *Engine) applyAbsoluteSync(env *message.Envelope) (*Position, bool, error) {
	pos, err := e.ensurePosition(env.OriginChain, env.User)
	if err != nil {
		return nil, false, err
	}
	if env.Nonce < pos.SyncNonce {
		return nil, false, nil
	}
	pos.Collateral = new(big.Int).Set(env.Snapshot.Collateral)
	pos.Borrowed = new(big.Int).Set(env.Snapshot.Borrowed)
	pos.Supplied = new(big.Int).Set(env.Snapshot.Supplied)
	pos.SyncNonce = env.Nonce
	return pos, true, nil
}

// applyLiquidityUpdate replaces the recorded pool totals for the origin chain.
func (e *Engine) applyLiquidityUpdate(env *message.Envelope) (*Pool, error) {
	if env.Pool.Supplied.Sign() < 0 || env.Pool.Utilized.Cmp(env.Pool.Supplied) > 0 {
		e.metrics.MessagesRejected.WithLabelValues("invalid_pool_totals").Inc()
		return nil, ErrInvalidPoolTotals
	}
	pool, err := e.ensurePool(env.OriginChain)
	if err != nil {
		return nil, err
	}
	pool.SuppliedTotal = new(big.Int).Set(env.Pool.Supplied)
	pool.UtilizedTotal = new(big.Int).Set(env.Pool.Utilized)
	return pool, nil
}

// relayPrice feeds a piggybacked oracle sample into the manual price sink so
// chains without a direct feed still track the origin asset's price.
func (e *Engine) relayPrice(chain Chain, sample *message.PriceSample) {
	if sample == nil || e.priceSink == nil || chain.Asset == "" {
		return
	}
	rate, ok := new(big.Rat).SetString(strings.TrimSpace(sample.Rate))
	if !ok || rate.Sign() <= 0 {
		return
	}
	e.priceSink.Set(chain.Asset, quoteSymbol, rate, time.Unix(sample.UpdatedAt, 0))
}

func subFloorZero(balance, amount *big.Int) *big.Int {
	result := new(big.Int).Sub(zeroIfNil(balance), zeroIfNil(amount))
	if result.Sign() < 0 {
		result.SetInt64(0)
	}
	return result
}
