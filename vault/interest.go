package vault

import "math/big"

var basisPoints = big.NewInt(10_000)

const secondsPerYear = 31_536_000

// utilisationRatio computes U = utilized / supplied. When no liquidity exists
// the utilisation is defined as zero.
func utilisationRatio(pool *Pool) *big.Rat {
	if pool == nil {
		return new(big.Rat)
	}
	supplied := zeroIfNil(pool.SuppliedTotal)
	utilized := zeroIfNil(pool.UtilizedTotal)
	if supplied.Sign() == 0 || utilized.Sign() == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(utilized, supplied)
}

// supplyRate derives the annual supply rate from pool utilisation:
// base + utilisation × slope, all expressed in basis points.
func supplyRate(params PoolParameters, pool *Pool) *big.Rat {
	base := new(big.Rat).SetFrac(new(big.Int).SetUint64(params.BaseRateBps), basisPoints)
	slope := new(big.Rat).SetFrac(new(big.Int).SetUint64(params.SlopeBps), basisPoints)
	rate := new(big.Rat).Mul(slope, utilisationRatio(pool))
	return rate.Add(rate, base)
}

// borrowRate scales the supply rate by the configured borrow multiplier.
func borrowRate(params PoolParameters, pool *Pool) *big.Rat {
	multiplier := new(big.Rat).SetFrac(new(big.Int).SetUint64(params.BorrowMultiplierBps), basisPoints)
	return multiplier.Mul(multiplier, supplyRate(params, pool))
}

// accrueInterest computes balance × rate × elapsed / secondsPerYear, floored.
func accrueInterest(balance *big.Int, rate *big.Rat, elapsedSeconds int64) *big.Int {
	if balance == nil || balance.Sign() == 0 || rate == nil || rate.Sign() == 0 || elapsedSeconds <= 0 {
		return big.NewInt(0)
	}
	interest := new(big.Rat).SetInt(balance)
	interest.Mul(interest, rate)
	interest.Mul(interest, big.NewRat(elapsedSeconds, secondsPerYear))
	return new(big.Int).Quo(interest.Num(), interest.Denom())
}
