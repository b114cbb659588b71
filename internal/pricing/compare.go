// Package pricing orders the two venues of a dollar/collateral pair by
// their effective dollar price. The cheaper venue is where the dollar
// gets borrowed, the dearer one where it gets sold.
package pricing

import (
	"fmt"
	"math/big"

	"github.com/ubiquity/arbitrage-bot/internal/domain"
)

// Compare ranks the constant-product pair against the mint facility's
// oracle price and returns the borrow direction plus the solver input.
// The pair's implied price is the collateral reserve over the dollar
// reserve; comparison cross-multiplies so no truncation biases small
// reserve ratios. On a tie the mint facility takes the lower slot, and
// the sized trade then dies on the profit check.
func Compare(reserveDollar, reserveCollateral, oraclePriceUsd *big.Int) (domain.Direction, domain.OrderedReserves, error) {
	if reserveDollar == nil || reserveDollar.Sign() <= 0 ||
		reserveCollateral == nil || reserveCollateral.Sign() <= 0 {
		return "", domain.OrderedReserves{}, fmt.Errorf("pricing: pair has empty reserves: %w", domain.ErrVenueLiquidity)
	}
	if oraclePriceUsd == nil || oraclePriceUsd.Sign() <= 0 {
		return "", domain.OrderedReserves{}, fmt.Errorf("pricing: oracle quotes no price: %w", domain.ErrVenueLiquidity)
	}

	pairSide := new(big.Int).Mul(reserveCollateral, domain.PriceScale)
	oracleSide := new(big.Int).Mul(reserveDollar, oraclePriceUsd)

	pairCurve := domain.PoolCurve{
		DollarReserve:     reserveDollar,
		CollateralReserve: reserveCollateral,
	}
	oracleCurve := domain.OracleCurve{PriceUsd: oraclePriceUsd}

	if pairSide.Cmp(oracleSide) < 0 {
		return domain.DirectionFlashFromPair, domain.OrderedReserves{
			Lower:  pairCurve,
			Higher: oracleCurve,
		}, nil
	}
	return domain.DirectionMintAndSell, domain.OrderedReserves{
		Lower:  oracleCurve,
		Higher: pairCurve,
	}, nil
}

// ImpliedPriceUsd reports the pair's spot dollar price in collateral
// terms at PriceScale resolution, truncated. Intended for telemetry;
// ordering decisions go through Compare to stay exact.
func ImpliedPriceUsd(reserveDollar, reserveCollateral *big.Int) (*big.Int, error) {
	if reserveDollar == nil || reserveDollar.Sign() <= 0 ||
		reserveCollateral == nil || reserveCollateral.Sign() <= 0 {
		return nil, fmt.Errorf("pricing: pair has empty reserves: %w", domain.ErrVenueLiquidity)
	}
	price := new(big.Int).Mul(reserveCollateral, domain.PriceScale)
	return price.Quo(price, reserveDollar), nil
}
