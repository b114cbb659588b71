package domain

import "math/big"

// PriceScale is the fixed-point denominator for USD prices quoted by the
// mint facility: 1,500,000 means $1.50 per dollar token.
var PriceScale = big.NewInt(1_000_000)

// VenueCurve describes the liquidity one venue offers for the
// dollar/collateral pair. A constant-product pair contributes its two
// reserves; the mint facility contributes only its spot price, since its
// depth is not bounded by a reserve curve.
type VenueCurve interface {
	isVenueCurve()
}

// PoolCurve is the liquidity of a constant-product pair.
type PoolCurve struct {
	DollarReserve     *big.Int
	CollateralReserve *big.Int
}

// OracleCurve is the liquidity of the oracle-priced mint facility.
// PriceUsd is collateral per dollar token, scaled by PriceScale.
type OracleCurve struct {
	PriceUsd *big.Int
}

func (PoolCurve) isVenueCurve()   {}
func (OracleCurve) isVenueCurve() {}

// OrderedReserves is the solver input. Lower is the venue the dollar
// token is borrowed from (the cheaper venue), Higher the venue the
// borrow is sold into.
type OrderedReserves struct {
	Lower  VenueCurve
	Higher VenueCurve
}
