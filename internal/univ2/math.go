// Package univ2 implements constant-product pricing with the canonical
// 0.3% taker fee. All helpers are integer-exact and truncate in the
// pool's favor, matching pair semantics on chain.
package univ2

import (
	"fmt"
	"math/big"

	"github.com/ubiquity/arbitrage-bot/internal/domain"
)

var (
	feeMul  = big.NewInt(997)
	feeDen  = big.NewInt(1000)
	feeTake = big.NewInt(3)
	one     = big.NewInt(1)
)

func positive(x *big.Int) bool {
	return x != nil && x.Sign() > 0
}

// AmountOut returns the output the pool releases for amountIn against
// the given reserves: amountIn*997*reserveOut / (reserveIn*1000 +
// amountIn*997), truncated.
func AmountOut(amountIn, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if !positive(amountIn) {
		return nil, fmt.Errorf("univ2: amount in must be positive: %w", domain.ErrVenueLiquidity)
	}
	if !positive(reserveIn) || !positive(reserveOut) {
		return nil, fmt.Errorf("univ2: empty reserves: %w", domain.ErrVenueLiquidity)
	}

	inWithFee := new(big.Int).Mul(amountIn, feeMul)
	num := new(big.Int).Mul(inWithFee, reserveOut)
	den := new(big.Int).Mul(reserveIn, feeDen)
	den.Add(den, inWithFee)
	return num.Quo(num, den), nil
}

// AmountIn returns the input the pool demands to release amountOut:
// reserveIn*amountOut*1000 / ((reserveOut-amountOut)*997) + 1. The +1
// rounds up so the fee-adjusted invariant always holds after payment.
func AmountIn(amountOut, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if !positive(amountOut) {
		return nil, fmt.Errorf("univ2: amount out must be positive: %w", domain.ErrVenueLiquidity)
	}
	if !positive(reserveIn) || !positive(reserveOut) {
		return nil, fmt.Errorf("univ2: empty reserves: %w", domain.ErrVenueLiquidity)
	}
	if reserveOut.Cmp(amountOut) <= 0 {
		return nil, fmt.Errorf("univ2: amount out %s exceeds reserve %s: %w", amountOut, reserveOut, domain.ErrVenueLiquidity)
	}

	num := new(big.Int).Mul(reserveIn, amountOut)
	num.Mul(num, feeDen)
	den := new(big.Int).Sub(reserveOut, amountOut)
	den.Mul(den, feeMul)
	num.Quo(num, den)
	return num.Add(num, one), nil
}

// KHolds reports whether the fee-adjusted constant product survives a
// swap: post-swap balances, each reduced by 0.3% of what was paid in,
// must cover the pre-swap reserve product.
func KHolds(balance0, balance1, amount0In, amount1In, reserve0, reserve1 *big.Int) bool {
	adj0 := new(big.Int).Mul(balance0, feeDen)
	adj0.Sub(adj0, new(big.Int).Mul(amount0In, feeTake))
	adj1 := new(big.Int).Mul(balance1, feeDen)
	adj1.Sub(adj1, new(big.Int).Mul(amount1In, feeTake))

	left := adj0.Mul(adj0, adj1)
	right := new(big.Int).Mul(reserve0, reserve1)
	right.Mul(right, feeDen)
	right.Mul(right, feeDen)
	return left.Cmp(right) >= 0
}
