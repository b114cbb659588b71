package solver

import "math/big"

var (
	sqrtScaleUp   = big.NewInt(1_000_000)
	sqrtScaleDown = big.NewInt(1_000)
	two           = big.NewInt(2)
)

// SqrtScaled returns the integer square root of n by Newton iteration.
// The radicand is lifted by 1e6 before iterating and the converged root
// is dropped back by 1e3, which caps sub-unit precision near three
// decimal digits. Inputs below one collapse to zero.
func SqrtScaled(n *big.Int) *big.Int {
	if n == nil || n.Sign() <= 0 {
		return new(big.Int)
	}

	scaled := new(big.Int).Mul(n, sqrtScaleUp)
	res := new(big.Int).Set(scaled)
	next := new(big.Int)
	quo := new(big.Int)
	for {
		quo.Quo(scaled, res)
		next.Add(res, quo)
		next.Quo(next, two)
		if next.Cmp(res) >= 0 {
			break
		}
		res.Set(next)
	}
	return res.Quo(res, sqrtScaleDown)
}
