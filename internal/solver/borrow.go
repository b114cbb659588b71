// Package solver sizes the dollar borrow that captures the widest
// spread between two venues quoting the same pair. Maximizing profit
// over both venues' price-impact curves collapses analytically into a
// single quadratic in the borrow amount; the positive root inside both
// venues' depth is the answer. Sizing deliberately ignores the 0.3%
// swap fee, so callers must re-check profitability with exact fee math
// before settling.
package solver

import (
	"fmt"
	"math/big"

	"github.com/ubiquity/arbitrage-bot/internal/domain"
)

var four = big.NewInt(4)

// quadratic carries a*x^2 + b*x + c = 0 together with the strict upper
// bounds a valid root must stay under (each finite venue's dollar
// reserve).
type quadratic struct {
	a, b, c *big.Int
	depth   []*big.Int
}

// BorrowAmount returns how many dollar units to borrow from the lower
// venue so that reselling them on the higher venue maximizes the
// spread. All arithmetic is arbitrary precision, so no reserve scaling
// is applied before solving.
func BorrowAmount(ordered domain.OrderedReserves) (*big.Int, error) {
	q, err := coefficients(ordered)
	if err != nil {
		return nil, err
	}
	roots, err := q.roots()
	if err != nil {
		return nil, err
	}
	for _, root := range roots {
		if root.Sign() > 0 && withinDepth(root, q.depth) {
			return root, nil
		}
	}
	return nil, fmt.Errorf("solver: no root within venue depth, check venue order: %w", domain.ErrNoProfitableSolution)
}

// coefficients derives the quadratic for the given curve pairing. A
// pool contributes both reserves; the oracle-priced facility is the
// infinite-depth limit of a pool pinned at its spot price, which
// removes one reserve bound and one degree of curvature.
func coefficients(ordered domain.OrderedReserves) (quadratic, error) {
	switch lower := ordered.Lower.(type) {
	case domain.PoolCurve:
		if err := livePool(lower); err != nil {
			return quadratic{}, err
		}
		switch higher := ordered.Higher.(type) {
		case domain.PoolCurve:
			if err := livePool(higher); err != nil {
				return quadratic{}, err
			}
			return poolPool(lower, higher), nil
		case domain.OracleCurve:
			if err := liveOracle(higher); err != nil {
				return quadratic{}, err
			}
			return poolOracle(lower, higher), nil
		}
	case domain.OracleCurve:
		if err := liveOracle(lower); err != nil {
			return quadratic{}, err
		}
		switch higher := ordered.Higher.(type) {
		case domain.PoolCurve:
			if err := livePool(higher); err != nil {
				return quadratic{}, err
			}
			return oraclePool(lower, higher), nil
		case domain.OracleCurve:
			return quadratic{}, fmt.Errorf("solver: two oracle venues have no price impact to cross: %w", domain.ErrInvalidVenuePair)
		}
	}
	return quadratic{}, fmt.Errorf("solver: unrecognized venue curve: %w", domain.ErrInvalidVenuePair)
}

func poolPool(lower, higher domain.PoolCurve) quadratic {
	s1, q1 := lower.DollarReserve, lower.CollateralReserve
	s2, q2 := higher.DollarReserve, higher.CollateralReserve

	a := new(big.Int).Mul(q1, s1)
	a.Sub(a, new(big.Int).Mul(q2, s2))

	b := new(big.Int).Mul(s1, s2)
	b.Mul(b, new(big.Int).Add(q1, q2))
	b.Mul(b, two)

	c := new(big.Int).Mul(q1, s2)
	c.Sub(c, new(big.Int).Mul(q2, s1))
	c.Mul(c, s1)
	c.Mul(c, s2)

	return quadratic{a: a, b: b, c: c, depth: []*big.Int{s1, s2}}
}

func oraclePool(lower domain.OracleCurve, higher domain.PoolCurve) quadratic {
	p := lower.PriceUsd
	s2, q2 := higher.DollarReserve, higher.CollateralReserve

	a := new(big.Int).Set(p)

	b := new(big.Int).Mul(s2, p)
	b.Mul(b, two)

	c := new(big.Int).Mul(p, s2)
	c.Sub(c, new(big.Int).Mul(domain.PriceScale, q2))
	c.Mul(c, s2)

	return quadratic{a: a, b: b, c: c, depth: []*big.Int{s2}}
}

func poolOracle(lower domain.PoolCurve, higher domain.OracleCurve) quadratic {
	s1, q1 := lower.DollarReserve, lower.CollateralReserve
	p := higher.PriceUsd

	a := new(big.Int).Neg(p)

	b := new(big.Int).Mul(s1, p)
	b.Mul(b, two)

	c := new(big.Int).Mul(domain.PriceScale, q1)
	c.Sub(c, new(big.Int).Mul(p, s1))
	c.Mul(c, s1)

	return quadratic{a: a, b: b, c: c, depth: []*big.Int{s1}}
}

// roots solves the quadratic. Both roots are reported when the curve is
// genuinely quadratic; venues with exactly matched constant products
// degrade a to zero and leave the single linear root -c/b.
func (q quadratic) roots() ([]*big.Int, error) {
	if q.a.Sign() == 0 {
		if q.b.Sign() == 0 {
			return nil, fmt.Errorf("solver: degenerate curve pair: %w", domain.ErrNoProfitableSolution)
		}
		root := new(big.Int).Neg(q.c)
		return []*big.Int{root.Quo(root, q.b)}, nil
	}

	disc := new(big.Int).Mul(q.b, q.b)
	disc.Sub(disc, new(big.Int).Mul(four, new(big.Int).Mul(q.a, q.c)))
	if disc.Sign() <= 0 {
		return nil, fmt.Errorf("solver: price impact curves never cross: %w", domain.ErrNoProfitableSolution)
	}

	sqrtDisc := SqrtScaled(disc)
	den := new(big.Int).Mul(two, q.a)

	x1 := new(big.Int).Neg(q.b)
	x1.Add(x1, sqrtDisc)
	x1.Quo(x1, den)

	x2 := new(big.Int).Neg(q.b)
	x2.Sub(x2, sqrtDisc)
	x2.Quo(x2, den)

	return []*big.Int{x1, x2}, nil
}

func withinDepth(x *big.Int, depth []*big.Int) bool {
	for _, limit := range depth {
		if x.Cmp(limit) >= 0 {
			return false
		}
	}
	return true
}

func livePool(p domain.PoolCurve) error {
	if p.DollarReserve == nil || p.DollarReserve.Sign() <= 0 ||
		p.CollateralReserve == nil || p.CollateralReserve.Sign() <= 0 {
		return fmt.Errorf("solver: pool venue has empty reserves: %w", domain.ErrVenueLiquidity)
	}
	return nil
}

func liveOracle(o domain.OracleCurve) error {
	if o.PriceUsd == nil || o.PriceUsd.Sign() <= 0 {
		return fmt.Errorf("solver: oracle venue quotes no price: %w", domain.ErrVenueLiquidity)
	}
	return nil
}
