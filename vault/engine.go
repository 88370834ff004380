package vault

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"crossvault/events"
	"crossvault/message"
	"crossvault/observability"
	"crossvault/oracle"
)

// engineState is the persistence surface the engine mutates. Production wires
// the LevelDB-backed Store; tests substitute an in-memory mock.
type engineState interface {
	GetPosition(chain string, user common.Address) (*Position, error)
	PutPosition(pos *Position) error
	HasProcessed(id [32]byte) (bool, error)
	CommitMessage(id [32]byte, pos *Position, pool *Pool) error
	GetPool(chain string) (*Pool, error)
	PutPool(pool *Pool) error
	NextNonce() (uint64, error)
}

// Outbound hands finished envelopes to the transport layer. EnsureBudget is
// called before any state mutation so an underfunded action fails whole.
type Outbound interface {
	EnsureBudget(feeBudget *big.Int, exclude string) error
	Broadcast(ctx context.Context, env *message.Envelope, feeBudget *big.Int) error
	Send(ctx context.Context, env *message.Envelope, destChain string, feeBudget *big.Int) error
}

// Engine owns the local chain's slice of the distributed ledger. Every mutating
// entry point takes the engine mutex so checking the processed set and applying
// an envelope are a single atomic step.
type Engine struct {
	mu         sync.Mutex
	state      engineState
	registry   *Registry
	localChain string
	params     RiskParameters
	poolParams PoolParameters
	outbound   Outbound
	pricefeed  oracle.PriceOracle
	priceSink  *oracle.ManualOracle
	emitter    events.Emitter
	metrics    *observability.VaultMetrics
	now        func() time.Time
}

// NewEngine constructs an engine for the given local chain. State, outbound
// transport, and the optional price oracle are injected through setters.
func NewEngine(localChain string, registry *Registry, params RiskParameters, poolParams PoolParameters) *Engine {
	return &Engine{
		localChain: strings.TrimSpace(localChain),
		registry:   registry,
		params:     params.Normalise(),
		poolParams: poolParams.Normalise(),
		emitter:    events.NoopEmitter{},
		metrics:    observability.Vault(),
		now:        time.Now,
	}
}

// SetState wires the persistence backend.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetOutbound wires the transport used to fan envelopes out to peers. A nil
// outbound leaves the engine in local-only mode, useful for tests and tooling.
func (e *Engine) SetOutbound(out Outbound) { e.outbound = out }

// SetPriceOracle enables oracle-priced valuation. When no oracle is configured
// the engine values every unit at par, which is correct for single-asset
// deployments.
func (e *Engine) SetPriceOracle(feed oracle.PriceOracle) { e.pricefeed = feed }

// SetPriceSink wires the manual oracle fed by price samples relayed inside
// inbound envelopes.
func (e *Engine) SetPriceSink(sink *oracle.ManualOracle) { e.priceSink = sink }

// SetEmitter wires the event sink. A nil emitter resets to the no-op sink.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetClock overrides the wall clock for deterministic tests.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// LocalChain returns the tag of the chain this engine records state for.
func (e *Engine) LocalChain() string { return e.localChain }

func (e *Engine) ensurePosition(chain string, user common.Address) (*Position, error) {
	pos, err := e.state.GetPosition(chain, user)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos = &Position{
			User:       user,
			Chain:      strings.TrimSpace(chain),
			Collateral: big.NewInt(0),
			Borrowed:   big.NewInt(0),
			Supplied:   big.NewInt(0),
		}
	}
	return pos, nil
}

func (e *Engine) ensurePool(chain string) (*Pool, error) {
	pool, err := e.state.GetPool(chain)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		pool = &Pool{
			Chain:         strings.TrimSpace(chain),
			SuppliedTotal: big.NewInt(0),
			UtilizedTotal: big.NewInt(0),
		}
	}
	return pool, nil
}

// ensureBudget verifies the fee budget covers every broadcast destination
// before any balance is touched.
func (e *Engine) ensureBudget(feeBudget *big.Int) error {
	if e.outbound == nil {
		return nil
	}
	return e.outbound.EnsureBudget(feeBudget, e.localChain)
}

// buildEnvelope assembles and identifies an outbound envelope, consuming the
// next origin nonce. A fresh local price sample is piggybacked when available.
func (e *Engine) buildEnvelope(kind message.ActionKind, user common.Address, amount *big.Int, snap *message.Snapshot, pool *message.PoolTotals) (*message.Envelope, error) {
	nonce, err := e.state.NextNonce()
	if err != nil {
		return nil, err
	}
	ts := e.now().Unix()
	env := &message.Envelope{
		Nonce:       nonce,
		User:        user,
		Kind:        kind,
		OriginChain: e.localChain,
		Amount:      amount,
		Snapshot:    snap,
		Pool:        pool,
		Timestamp:   ts,
	}
	env.ID = message.DeriveID(e.localChain, nonce, user, kind, amount, ts)
	if e.pricefeed != nil {
		if local, ok := e.registry.Get(e.localChain); ok && local.Asset != "" {
			if quote, qerr := e.pricefeed.GetRate(local.Asset, quoteSymbol); qerr == nil {
				env.Price = &message.PriceSample{
					Rate:      quote.RateString(18),
					UpdatedAt: quote.Timestamp.Unix(),
				}
			}
		}
	}
	return env, nil
}

func (e *Engine) broadcast(ctx context.Context, env *message.Envelope, feeBudget *big.Int) error {
	if e.outbound == nil {
		return nil
	}
	return e.outbound.Broadcast(ctx, env, feeBudget)
}

// Deposit locks collateral on the local chain and announces the new balance to
// every peer.
func (e *Engine) Deposit(ctx context.Context, user common.Address, amount, feeBudget *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureBudget(feeBudget); err != nil {
		return err
	}
	pos, err := e.ensurePosition(e.localChain, user)
	if err != nil {
		return err
	}
	pos.Collateral = new(big.Int).Add(zeroIfNil(pos.Collateral), amount)
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	env, err := e.buildEnvelope(message.KindDeposit, user, amount, nil, nil)
	if err != nil {
		return err
	}
	if err := e.broadcast(ctx, env, feeBudget); err != nil {
		return err
	}
	e.emitter.Emit(events.CollateralDeposited{User: user, Chain: e.localChain, Amount: amount})
	return nil
}

// Withdraw releases collateral when the remaining cross-chain position stays
// healthy. The guard values the position as if the withdrawal had already
// settled everywhere.
func (e *Engine) Withdraw(ctx context.Context, user common.Address, amount, feeBudget *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureBudget(feeBudget); err != nil {
		return err
	}
	pos, err := e.ensurePosition(e.localChain, user)
	if err != nil {
		return err
	}
	if zeroIfNil(pos.Collateral).Cmp(amount) < 0 {
		return ErrInsufficientCollateral
	}
	candidate := pos.Copy()
	candidate.Collateral.Sub(candidate.Collateral, amount)
	collateralValue, borrowedValue, err := e.aggregateValues(user, candidate)
	if err != nil {
		return err
	}
	if borrowedValue.Sign() > 0 && !e.healthy(collateralValue, borrowedValue) {
		return ErrHealthCheckFailed
	}
	pos.Collateral = candidate.Collateral
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	env, err := e.buildEnvelope(message.KindWithdraw, user, amount, nil, nil)
	if err != nil {
		return err
	}
	if err := e.broadcast(ctx, env, feeBudget); err != nil {
		return err
	}
	e.emitter.Emit(events.CollateralWithdrawn{User: user, Chain: e.localChain, Amount: amount})
	return nil
}

// Borrow draws from the local liquidity pool against cross-chain collateral.
// The credit line and health factor are checked against the projected position
// before anything is written.
func (e *Engine) Borrow(ctx context.Context, user common.Address, amount, feeBudget *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureBudget(feeBudget); err != nil {
		return err
	}
	pos, err := e.ensurePosition(e.localChain, user)
	if err != nil {
		return err
	}
	candidate := pos.Copy()
	candidate.Borrowed.Add(candidate.Borrowed, amount)
	collateralValue, borrowedValue, err := e.aggregateValues(user, candidate)
	if err != nil {
		return err
	}
	limit := new(big.Rat).Mul(collateralValue, e.ratioRat(e.params.CollateralRatioBps))
	if borrowedValue.Cmp(limit) > 0 {
		return ErrExceedsCreditLine
	}
	if !e.healthy(collateralValue, borrowedValue) {
		return ErrHealthCheckFailed
	}
	pool, err := e.ensurePool(e.localChain)
	if err != nil {
		return err
	}
	if pool.AvailableLiquidity().Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	pool.UtilizedTotal = new(big.Int).Add(zeroIfNil(pool.UtilizedTotal), amount)
	if err := e.state.PutPool(pool); err != nil {
		return err
	}
	pos.Borrowed = candidate.Borrowed
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	env, err := e.buildEnvelope(message.KindBorrow, user, amount, nil, nil)
	if err != nil {
		return err
	}
	if err := e.broadcast(ctx, env, feeBudget); err != nil {
		return err
	}
	e.emitter.Emit(events.LoanBorrowed{User: user, Chain: e.localChain, Amount: amount})
	return nil
}

// Repay reduces local debt. Overpayment is rejected rather than clamped so the
// caller's funds are never silently absorbed.
func (e *Engine) Repay(ctx context.Context, user common.Address, amount, feeBudget *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureBudget(feeBudget); err != nil {
		return err
	}
	pos, err := e.ensurePosition(e.localChain, user)
	if err != nil {
		return err
	}
	debt := zeroIfNil(pos.Borrowed)
	if debt.Sign() == 0 {
		return ErrNoDebtToRepay
	}
	if amount.Cmp(debt) > 0 {
		return ErrRepayExceedsDebt
	}
	pos.Borrowed = new(big.Int).Sub(debt, amount)
	pool, err := e.ensurePool(e.localChain)
	if err != nil {
		return err
	}
	utilized := new(big.Int).Sub(zeroIfNil(pool.UtilizedTotal), amount)
	if utilized.Sign() < 0 {
		utilized.SetInt64(0)
	}
	pool.UtilizedTotal = utilized
	if err := e.state.PutPool(pool); err != nil {
		return err
	}
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	env, err := e.buildEnvelope(message.KindRepay, user, amount, nil, nil)
	if err != nil {
		return err
	}
	if err := e.broadcast(ctx, env, feeBudget); err != nil {
		return err
	}
	e.emitter.Emit(events.LoanRepaid{User: user, Chain: e.localChain, Amount: amount})
	return nil
}

// Liquidate closes an unhealthy position: the debt is cleared, collateral
// covering the debt plus the liquidation bonus is seized, and an absolute sync
// supersedes any in-flight increments for the position. Returns the repaid debt
// and the seized collateral.
func (e *Engine) Liquidate(ctx context.Context, liquidator, user common.Address, feeBudget *big.Int) (*big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureBudget(feeBudget); err != nil {
		return nil, nil, err
	}
	pos, err := e.ensurePosition(e.localChain, user)
	if err != nil {
		return nil, nil, err
	}
	debt := zeroIfNil(pos.Borrowed)
	if debt.Sign() == 0 {
		return nil, nil, ErrNoDebtToRepay
	}
	collateralValue, borrowedValue, err := e.aggregateValues(user, nil)
	if err != nil {
		return nil, nil, err
	}
	if e.healthy(collateralValue, borrowedValue) {
		return nil, nil, ErrNotLiquidatable
	}
	seize := new(big.Int).Mul(debt, new(big.Int).SetUint64(10_000+e.params.LiquidationBonusBps))
	seize.Quo(seize, basisPoints)
	if seize.Cmp(zeroIfNil(pos.Collateral)) > 0 {
		seize = new(big.Int).Set(zeroIfNil(pos.Collateral))
	}
	pos.Borrowed = big.NewInt(0)
	pos.Collateral = new(big.Int).Sub(zeroIfNil(pos.Collateral), seize)
	pool, err := e.ensurePool(e.localChain)
	if err != nil {
		return nil, nil, err
	}
	utilized := new(big.Int).Sub(zeroIfNil(pool.UtilizedTotal), debt)
	if utilized.Sign() < 0 {
		utilized.SetInt64(0)
	}
	pool.UtilizedTotal = utilized
	if err := e.state.PutPool(pool); err != nil {
		return nil, nil, err
	}
	env, err := e.buildEnvelope(message.KindAbsoluteSync, user, nil, snapshotOf(pos), nil)
	if err != nil {
		return nil, nil, err
	}
	pos.SyncNonce = env.Nonce
	if err := e.state.PutPosition(pos); err != nil {
		return nil, nil, err
	}
	if err := e.broadcast(ctx, env, feeBudget); err != nil {
		return nil, nil, err
	}
	e.emitter.Emit(events.PositionLiquidated{
		User:       user,
		Liquidator: liquidator,
		Chain:      e.localChain,
		Repaid:     debt,
		Seized:     seize,
	})
	return debt, seize, nil
}

// Reconcile re-broadcasts the local position as an absolute sync. An empty
// destination targets every peer; otherwise only the named chain receives the
// snapshot. Idempotent by construction on the receiving side.
func (e *Engine) Reconcile(ctx context.Context, user common.Address, destChain string, feeBudget *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	dest := strings.TrimSpace(destChain)
	if dest != "" {
		if dest == e.localChain || !e.registry.Has(dest) {
			return ErrUnsupportedChain
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	destinations := len(e.registry.Peers(e.localChain))
	if dest != "" {
		destinations = 1
	} else if err := e.ensureBudget(feeBudget); err != nil {
		return err
	}
	pos, err := e.ensurePosition(e.localChain, user)
	if err != nil {
		return err
	}
	env, err := e.buildEnvelope(message.KindAbsoluteSync, user, nil, snapshotOf(pos), nil)
	if err != nil {
		return err
	}
	pos.SyncNonce = env.Nonce
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	if e.outbound != nil {
		if dest == "" {
			err = e.outbound.Broadcast(ctx, env, feeBudget)
		} else {
			err = e.outbound.Send(ctx, env, dest, feeBudget)
		}
		if err != nil {
			return err
		}
	}
	e.metrics.ResyncsRequested.Inc()
	e.emitter.Emit(events.BalanceReconciled{User: user, Chain: e.localChain, Destinations: destinations})
	return nil
}

// GetPosition returns a copy of the recorded position for (user, chain), or nil
// when nothing has been recorded.
func (e *Engine) GetPosition(chain string, user common.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, err := e.state.GetPosition(chain, user)
	if err != nil {
		return nil, err
	}
	return pos.Copy(), nil
}

func snapshotOf(pos *Position) *message.Snapshot {
	return &message.Snapshot{
		Collateral: new(big.Int).Set(zeroIfNil(pos.Collateral)),
		Borrowed:   new(big.Int).Set(zeroIfNil(pos.Borrowed)),
		Supplied:   new(big.Int).Set(zeroIfNil(pos.Supplied)),
	}
}
