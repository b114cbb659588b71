package pricing

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubiquity/arbitrage-bot/internal/domain"
)

func TestCompare(t *testing.T) {
	testCases := []struct {
		name              string
		reserveDollar     *big.Int
		reserveCollateral *big.Int
		oraclePriceUsd    *big.Int
		expectedDirection domain.Direction
		expectError       bool
	}{
		{
			name:              "Oracle Cheaper Than Pair",
			reserveDollar:     big.NewInt(1_000_000),
			reserveCollateral: big.NewInt(2_000_000),
			oraclePriceUsd:    big.NewInt(1_500_000),
			expectedDirection: domain.DirectionMintAndSell,
		},
		{
			name:              "Pair Cheaper Than Oracle",
			reserveDollar:     big.NewInt(1_000_000),
			reserveCollateral: big.NewInt(2_000_000),
			oraclePriceUsd:    big.NewInt(2_500_000),
			expectedDirection: domain.DirectionFlashFromPair,
		},
		{
			name:              "Tie Prefers Mint Facility",
			reserveDollar:     big.NewInt(1_000_000),
			reserveCollateral: big.NewInt(2_000_000),
			oraclePriceUsd:    big.NewInt(2_000_000),
			expectedDirection: domain.DirectionMintAndSell,
		},
		{
			name:              "Tiny Reserve Ratio Stays Exact",
			reserveDollar:     big.NewInt(3),
			reserveCollateral: big.NewInt(1),
			oraclePriceUsd:    big.NewInt(333_334),
			expectedDirection: domain.DirectionFlashFromPair,
		},
		{
			name:              "Zero Dollar Reserve",
			reserveDollar:     big.NewInt(0),
			reserveCollateral: big.NewInt(2_000_000),
			oraclePriceUsd:    big.NewInt(1_500_000),
			expectError:       true,
		},
		{
			name:              "Nil Collateral Reserve",
			reserveDollar:     big.NewInt(1_000_000),
			reserveCollateral: nil,
			oraclePriceUsd:    big.NewInt(1_500_000),
			expectError:       true,
		},
		{
			name:              "Zero Oracle Price",
			reserveDollar:     big.NewInt(1_000_000),
			reserveCollateral: big.NewInt(2_000_000),
			oraclePriceUsd:    big.NewInt(0),
			expectError:       true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			direction, ordered, err := Compare(tc.reserveDollar, tc.reserveCollateral, tc.oraclePriceUsd)

			if tc.expectError {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrVenueLiquidity)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedDirection, direction)

			switch direction {
			case domain.DirectionMintAndSell:
				assert.IsType(t, domain.OracleCurve{}, ordered.Lower)
				assert.IsType(t, domain.PoolCurve{}, ordered.Higher)
			case domain.DirectionFlashFromPair:
				assert.IsType(t, domain.PoolCurve{}, ordered.Lower)
				assert.IsType(t, domain.OracleCurve{}, ordered.Higher)
			}
		})
	}
}

// Nudging the oracle quote across the pair's implied price must flip
// the ordering, and the cheap side always lands in the lower slot.
func TestCompareOrderingFlips(t *testing.T) {
	reserveDollar := big.NewInt(7_341_553)
	reserveCollateral := big.NewInt(11_002_461)
	implied, err := ImpliedPriceUsd(reserveDollar, reserveCollateral)
	require.NoError(t, err)

	below := new(big.Int).Sub(implied, big.NewInt(1_000))
	direction, ordered, err := Compare(reserveDollar, reserveCollateral, below)
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionMintAndSell, direction)
	assert.Equal(t, domain.OracleCurve{PriceUsd: below}, ordered.Lower)

	above := new(big.Int).Add(implied, big.NewInt(1_000))
	direction, ordered, err = Compare(reserveDollar, reserveCollateral, above)
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionFlashFromPair, direction)
	assert.Equal(t, domain.OracleCurve{PriceUsd: above}, ordered.Higher)
}

func TestImpliedPriceUsd(t *testing.T) {
	price, err := ImpliedPriceUsd(big.NewInt(1_000_000), big.NewInt(2_000_000))
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000), price.Int64())

	price, err = ImpliedPriceUsd(big.NewInt(3_000_000), big.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, int64(333_333), price.Int64())

	_, err = ImpliedPriceUsd(big.NewInt(0), big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrVenueLiquidity)
}
