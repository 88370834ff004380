package vault

import (
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"crossvault/oracle"
)

// quoteSymbol is the valuation currency used whenever an oracle is configured.
const quoteSymbol = "USD"

// MaxHealthFactor is the sentinel health factor reported for positions with no
// outstanding debt. Division by a zero debt is never attempted.
var MaxHealthFactor = new(big.Rat).SetInt64(math.MaxInt64)

func (e *Engine) ratioRat(bps uint64) *big.Rat {
	return new(big.Rat).SetFrac(new(big.Int).SetUint64(bps), basisPoints)
}

// healthy reports whether threshold-weighted collateral value covers the
// borrowed value. Zero debt is always healthy.
func (e *Engine) healthy(collateralValue, borrowedValue *big.Rat) bool {
	if borrowedValue.Sign() == 0 {
		return true
	}
	weighted := new(big.Rat).Mul(collateralValue, e.ratioRat(e.params.LiquidationThresholdBps))
	return weighted.Cmp(borrowedValue) >= 0
}

// freshRate resolves the oracle rate for an asset and enforces the configured
// freshness window. Valuation is refused outright on a stale or missing quote
// so risk guards never act on bad prices.
func (e *Engine) freshRate(asset string) (*big.Rat, error) {
	quote, err := e.pricefeed.GetRate(asset, quoteSymbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", oracle.ErrNoFreshQuote, asset)
	}
	if quote.Rate == nil || quote.Rate.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s", oracle.ErrNoFreshQuote, asset)
	}
	if e.params.MaxQuoteAge > 0 && quote.Timestamp.Before(e.now().Add(-e.params.MaxQuoteAge)) {
		return nil, fmt.Errorf("%w: %s", oracle.ErrNoFreshQuote, asset)
	}
	return quote.Rate, nil
}

// aggregateValues sums collateral and borrowed values across every registered
// chain. When override is non-nil it substitutes for the stored position on its
// chain, letting guards evaluate an action as if it had already settled. With
// no oracle configured every unit is valued at par.
func (e *Engine) aggregateValues(user common.Address, override *Position) (*big.Rat, *big.Rat, error) {
	collateralValue := new(big.Rat)
	borrowedValue := new(big.Rat)
	rates := make(map[string]*big.Rat)
	overrideSeen := false

	chains := e.registry.Chains()
	for _, chain := range chains {
		pos, err := e.state.GetPosition(chain.Tag, user)
		if err != nil {
			return nil, nil, err
		}
		if override != nil && chain.Tag == override.Chain {
			pos = override
			overrideSeen = true
		}
		if pos == nil {
			continue
		}
		if err := e.addValues(collateralValue, borrowedValue, pos, chain.Asset, rates); err != nil {
			return nil, nil, err
		}
	}
	if override != nil && !overrideSeen {
		asset := ""
		if chain, ok := e.registry.Get(override.Chain); ok {
			asset = chain.Asset
		}
		if err := e.addValues(collateralValue, borrowedValue, override, asset, rates); err != nil {
			return nil, nil, err
		}
	}
	return collateralValue, borrowedValue, nil
}

func (e *Engine) addValues(collateralValue, borrowedValue *big.Rat, pos *Position, asset string, rates map[string]*big.Rat) error {
	collateral := zeroIfNil(pos.Collateral)
	borrowed := zeroIfNil(pos.Borrowed)
	if collateral.Sign() == 0 && borrowed.Sign() == 0 {
		return nil
	}
	rate := new(big.Rat).SetInt64(1)
	if e.pricefeed != nil {
		cached, ok := rates[asset]
		if !ok {
			fetched, err := e.freshRate(asset)
			if err != nil {
				return err
			}
			rates[asset] = fetched
			cached = fetched
		}
		rate = cached
	}
	if collateral.Sign() > 0 {
		collateralValue.Add(collateralValue, new(big.Rat).Mul(new(big.Rat).SetInt(collateral), rate))
	}
	if borrowed.Sign() > 0 {
		borrowedValue.Add(borrowedValue, new(big.Rat).Mul(new(big.Rat).SetInt(borrowed), rate))
	}
	return nil
}

// TotalCollateral sums recorded collateral units across all registered chains.
func (e *Engine) TotalCollateral(user common.Address) (*big.Int, error) {
	return e.sumField(user, func(pos *Position) *big.Int { return pos.Collateral })
}

// TotalBorrowed sums recorded debt units across all registered chains.
func (e *Engine) TotalBorrowed(user common.Address) (*big.Int, error) {
	return e.sumField(user, func(pos *Position) *big.Int { return pos.Borrowed })
}

// TotalSupplied sums recorded pool deposits across all registered chains.
func (e *Engine) TotalSupplied(user common.Address) (*big.Int, error) {
	return e.sumField(user, func(pos *Position) *big.Int { return pos.Supplied })
}

func (e *Engine) sumField(user common.Address, field func(*Position) *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	total := big.NewInt(0)
	for _, chain := range e.registry.Chains() {
		pos, err := e.state.GetPosition(chain.Tag, user)
		if err != nil {
			return nil, err
		}
		if pos == nil {
			continue
		}
		total.Add(total, zeroIfNil(field(pos)))
	}
	return total, nil
}

// CreditLine returns the maximum borrowable value for the user: aggregate
// collateral value scaled by the collateral ratio, floored to an integer.
func (e *Engine) CreditLine(user common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	collateralValue, _, err := e.aggregateValues(user, nil)
	if err != nil {
		return nil, err
	}
	limit := new(big.Rat).Mul(collateralValue, e.ratioRat(e.params.CollateralRatioBps))
	return new(big.Int).Quo(limit.Num(), limit.Denom()), nil
}

// HealthFactor returns threshold-weighted collateral value over borrowed
// value, or MaxHealthFactor when nothing is borrowed.
func (e *Engine) HealthFactor(user common.Address) (*big.Rat, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	collateralValue, borrowedValue, err := e.aggregateValues(user, nil)
	if err != nil {
		return nil, err
	}
	if borrowedValue.Sign() == 0 {
		return new(big.Rat).Set(MaxHealthFactor), nil
	}
	weighted := new(big.Rat).Mul(collateralValue, e.ratioRat(e.params.LiquidationThresholdBps))
	return weighted.Quo(weighted, borrowedValue), nil
}

// Aggregate assembles the derived cross-chain view for a user. The totals are
// recomputed from the per-chain positions on every call.
func (e *Engine) Aggregate(user common.Address) (*AggregatePosition, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	agg := &AggregatePosition{
		User:            user,
		TotalCollateral: big.NewInt(0),
		TotalBorrowed:   big.NewInt(0),
		TotalSupplied:   big.NewInt(0),
	}
	for _, chain := range e.registry.Chains() {
		pos, err := e.state.GetPosition(chain.Tag, user)
		if err != nil {
			return nil, err
		}
		if pos == nil {
			continue
		}
		agg.TotalCollateral.Add(agg.TotalCollateral, zeroIfNil(pos.Collateral))
		agg.TotalBorrowed.Add(agg.TotalBorrowed, zeroIfNil(pos.Borrowed))
		agg.TotalSupplied.Add(agg.TotalSupplied, zeroIfNil(pos.Supplied))
	}
	collateralValue, borrowedValue, err := e.aggregateValues(user, nil)
	if err != nil {
		return nil, err
	}
	limit := new(big.Rat).Mul(collateralValue, e.ratioRat(e.params.CollateralRatioBps))
	agg.CreditLine = new(big.Int).Quo(limit.Num(), limit.Denom())
	if borrowedValue.Sign() == 0 {
		agg.HealthFactor = new(big.Rat).Set(MaxHealthFactor)
	} else {
		weighted := new(big.Rat).Mul(collateralValue, e.ratioRat(e.params.LiquidationThresholdBps))
		agg.HealthFactor = weighted.Quo(weighted, borrowedValue)
	}
	return agg, nil
}

// ChainBreakdown lists the user's recorded positions per chain, in registry
// order. Chains with no recorded position are omitted.
func (e *Engine) ChainBreakdown(user common.Address) ([]*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	breakdown := make([]*Position, 0, len(e.registry.Chains()))
	for _, chain := range e.registry.Chains() {
		pos, err := e.state.GetPosition(chain.Tag, user)
		if err != nil {
			return nil, err
		}
		if pos == nil {
			continue
		}
		breakdown = append(breakdown, pos.Copy())
	}
	return breakdown, nil
}
