package vault

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"crossvault/events"
	"crossvault/message"
)

// accrueSupply credits pending interest to the supplier before the balance
// changes, so the rate in effect until now is applied to the old balance.
func (e *Engine) accrueSupply(pos *Position, pool *Pool) {
	now := e.now().Unix()
	if pos.SupplyAccruedAt > 0 {
		elapsed := now - pos.SupplyAccruedAt
		pending := accrueInterest(pos.Supplied, supplyRate(e.poolParams, pool), elapsed)
		if pending.Sign() > 0 {
			pos.Supplied = new(big.Int).Add(zeroIfNil(pos.Supplied), pending)
			pool.SuppliedTotal = new(big.Int).Add(zeroIfNil(pool.SuppliedTotal), pending)
		}
	}
	pos.SupplyAccruedAt = now
	pool.LastAccrual = now
}

// Supply lends liquidity into the local pool. Peers learn the new pool totals
// through a liquidity-update envelope so cross-chain borrow checks stay
// grounded in real availability.
func (e *Engine) Supply(ctx context.Context, user common.Address, amount, feeBudget *big.Int) error {
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
	pool, err := e.ensurePool(e.localChain)
	if err != nil {
		return err
	}
	e.accrueSupply(pos, pool)
	pos.Supplied = new(big.Int).Add(zeroIfNil(pos.Supplied), amount)
	pool.SuppliedTotal = new(big.Int).Add(zeroIfNil(pool.SuppliedTotal), amount)
	if err := e.state.PutPool(pool); err != nil {
		return err
	}
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	env, err := e.buildEnvelope(message.KindLiquidityUpdate, user, nil, nil, poolTotalsOf(pool))
	if err != nil {
		return err
	}
	if err := e.broadcast(ctx, env, feeBudget); err != nil {
		return err
	}
	e.emitter.Emit(events.LiquiditySupplied{User: user, Chain: e.localChain, Amount: amount})
	return nil
}

// WithdrawSupplied removes idle liquidity. Funds backing outstanding loans
// cannot leave the pool.
func (e *Engine) WithdrawSupplied(ctx context.Context, user common.Address, amount, feeBudget *big.Int) error {
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
	pool, err := e.ensurePool(e.localChain)
	if err != nil {
		return err
	}
	e.accrueSupply(pos, pool)
	if zeroIfNil(pos.Supplied).Cmp(amount) < 0 {
		return ErrInsufficientSupplied
	}
	if pool.AvailableLiquidity().Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	pos.Supplied = new(big.Int).Sub(zeroIfNil(pos.Supplied), amount)
	pool.SuppliedTotal = new(big.Int).Sub(zeroIfNil(pool.SuppliedTotal), amount)
	if err := e.state.PutPool(pool); err != nil {
		return err
	}
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	env, err := e.buildEnvelope(message.KindLiquidityUpdate, user, nil, nil, poolTotalsOf(pool))
	if err != nil {
		return err
	}
	if err := e.broadcast(ctx, env, feeBudget); err != nil {
		return err
	}
	e.emitter.Emit(events.LiquidityWithdrawn{User: user, Chain: e.localChain, Amount: amount})
	return nil
}

// PoolState returns a copy of the recorded pool for the chain, or an empty pool
// when nothing has been written yet.
func (e *Engine) PoolState(chain string) (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	pool, err := e.ensurePool(chain)
	if err != nil {
		return nil, err
	}
	clone := *pool
	clone.SuppliedTotal = new(big.Int).Set(zeroIfNil(pool.SuppliedTotal))
	clone.UtilizedTotal = new(big.Int).Set(zeroIfNil(pool.UtilizedTotal))
	return &clone, nil
}

// PoolRates reports the current annual supply and borrow rates for the chain's
// pool at its present utilisation.
func (e *Engine) PoolRates(chain string) (*big.Rat, *big.Rat, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	pool, err := e.ensurePool(chain)
	if err != nil {
		return nil, nil, err
	}
	return supplyRate(e.poolParams, pool), borrowRate(e.poolParams, pool), nil
}

func poolTotalsOf(pool *Pool) *message.PoolTotals {
	return &message.PoolTotals{
		Supplied: new(big.Int).Set(zeroIfNil(pool.SuppliedTotal)),
		Utilized: new(big.Int).Set(zeroIfNil(pool.UtilizedTotal)),
	}
}
