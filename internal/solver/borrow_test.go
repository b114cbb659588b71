package solver

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubiquity/arbitrage-bot/internal/domain"
)

func pool(dollar, collateral int64) domain.PoolCurve {
	return domain.PoolCurve{
		DollarReserve:     big.NewInt(dollar),
		CollateralReserve: big.NewInt(collateral),
	}
}

func oracle(priceUsd int64) domain.OracleCurve {
	return domain.OracleCurve{PriceUsd: big.NewInt(priceUsd)}
}

func TestBorrowAmount(t *testing.T) {
	testCases := []struct {
		name        string
		ordered     domain.OrderedReserves
		expected    *big.Int
		expectError bool
		expectedErr error
	}{
		{
			name: "Mint Venue Cheaper Than Pair",
			ordered: domain.OrderedReserves{
				Lower:  oracle(1_500_000),
				Higher: pool(1_000_000, 2_000_000),
			},
			expected: big.NewInt(154_700),
		},
		{
			name: "Pair Cheaper Than Mint Venue",
			ordered: domain.OrderedReserves{
				Lower:  pool(1_000_000, 1_500_000),
				Higher: oracle(2_000_000),
			},
			expected: big.NewInt(133_974),
		},
		{
			name: "Two Pools",
			ordered: domain.OrderedReserves{
				Lower:  pool(1_000_000, 1_500_000),
				Higher: pool(1_000_000, 2_000_000),
			},
			expected: big.NewInt(71_796),
		},
		{
			name: "Equal Constant Products",
			ordered: domain.OrderedReserves{
				Lower:  pool(2_000_000, 1_000_000),
				Higher: pool(1_000_000, 2_000_000),
			},
			expected: big.NewInt(500_000),
		},
		{
			name: "Reversed Order Against Oracle",
			ordered: domain.OrderedReserves{
				Lower:  pool(1_000_000, 2_000_000),
				Higher: oracle(1_500_000),
			},
			expectError: true,
			expectedErr: domain.ErrNoProfitableSolution,
		},
		{
			name: "Reversed Order Two Pools",
			ordered: domain.OrderedReserves{
				Lower:  pool(1_000_000, 2_000_000),
				Higher: pool(1_000_000, 1_500_000),
			},
			expectError: true,
			expectedErr: domain.ErrNoProfitableSolution,
		},
		{
			name: "No Spread Between Identical Pools",
			ordered: domain.OrderedReserves{
				Lower:  pool(1_000_000, 2_000_000),
				Higher: pool(1_000_000, 2_000_000),
			},
			expectError: true,
			expectedErr: domain.ErrNoProfitableSolution,
		},
		{
			name: "Equal Prices Oracle And Pool",
			ordered: domain.OrderedReserves{
				Lower:  oracle(2_000_000),
				Higher: pool(1_000_000, 2_000_000),
			},
			expectError: true,
			expectedErr: domain.ErrNoProfitableSolution,
		},
		{
			name: "Zero Pool Reserve",
			ordered: domain.OrderedReserves{
				Lower:  pool(0, 2_000_000),
				Higher: oracle(1_500_000),
			},
			expectError: true,
			expectedErr: domain.ErrVenueLiquidity,
		},
		{
			name: "Nil Pool Reserve",
			ordered: domain.OrderedReserves{
				Lower:  oracle(1_500_000),
				Higher: domain.PoolCurve{DollarReserve: big.NewInt(1_000_000)},
			},
			expectError: true,
			expectedErr: domain.ErrVenueLiquidity,
		},
		{
			name: "Zero Oracle Price",
			ordered: domain.OrderedReserves{
				Lower:  oracle(0),
				Higher: pool(1_000_000, 2_000_000),
			},
			expectError: true,
			expectedErr: domain.ErrVenueLiquidity,
		},
		{
			name: "Two Oracles",
			ordered: domain.OrderedReserves{
				Lower:  oracle(1_500_000),
				Higher: oracle(2_000_000),
			},
			expectError: true,
			expectedErr: domain.ErrInvalidVenuePair,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := BorrowAmount(tc.ordered)

			if tc.expectError {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.expectedErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Zero(t, tc.expected.Cmp(got), "expected %s, got %s", tc.expected, got)
		})
	}
}

// spreadProfit evaluates the fee-less objective the sizing quadratic
// was derived from: collateral received selling x dollars into the
// higher venue minus collateral owed to unwind the borrow on the lower
// venue.
func spreadProfit(t *testing.T, ordered domain.OrderedReserves, x *big.Int) *big.Int {
	t.Helper()

	var out, debt *big.Int
	switch higher := ordered.Higher.(type) {
	case domain.PoolCurve:
		num := new(big.Int).Mul(higher.CollateralReserve, x)
		out = num.Quo(num, new(big.Int).Add(higher.DollarReserve, x))
	case domain.OracleCurve:
		num := new(big.Int).Mul(higher.PriceUsd, x)
		out = num.Quo(num, domain.PriceScale)
	default:
		t.Fatalf("unexpected higher curve %T", higher)
	}
	switch lower := ordered.Lower.(type) {
	case domain.PoolCurve:
		num := new(big.Int).Mul(lower.CollateralReserve, x)
		debt = num.Quo(num, new(big.Int).Sub(lower.DollarReserve, x))
	case domain.OracleCurve:
		num := new(big.Int).Mul(lower.PriceUsd, x)
		debt = num.Quo(num, domain.PriceScale)
	default:
		t.Fatalf("unexpected lower curve %T", lower)
	}
	return out.Sub(out, debt)
}

// The returned size must beat every materially different size on the
// same curves. Truncation keeps neighbouring sizes within a unit or
// two, so the probes stay a few thousand units away from the root.
func TestBorrowAmountMaximizesSpread(t *testing.T) {
	pairings := []struct {
		name    string
		ordered domain.OrderedReserves
	}{
		{
			name: "Two Pools",
			ordered: domain.OrderedReserves{
				Lower:  pool(1_000_000, 1_500_000),
				Higher: pool(1_000_000, 2_000_000),
			},
		},
		{
			name: "Oracle Below Pool",
			ordered: domain.OrderedReserves{
				Lower:  oracle(1_500_000),
				Higher: pool(1_000_000, 2_000_000),
			},
		},
		{
			name: "Pool Below Oracle",
			ordered: domain.OrderedReserves{
				Lower:  pool(1_000_000, 1_500_000),
				Higher: oracle(2_000_000),
			},
		},
	}

	for _, p := range pairings {
		t.Run(p.name, func(t *testing.T) {
			root, err := BorrowAmount(p.ordered)
			require.NoError(t, err)

			best := spreadProfit(t, p.ordered, root)
			assert.Positive(t, best.Sign(), "sized borrow must clear a positive spread")

			for _, delta := range []int64{5_000, 20_000} {
				up := new(big.Int).Add(root, big.NewInt(delta))
				down := new(big.Int).Sub(root, big.NewInt(delta))

				assert.Greater(t, best.Cmp(spreadProfit(t, p.ordered, up)), 0,
					"size %s outperformed by %s", root, up)
				assert.Greater(t, best.Cmp(spreadProfit(t, p.ordered, down)), 0,
					"size %s outperformed by %s", root, down)
			}
		})
	}
}

func BenchmarkBorrowAmount(b *testing.B) {
	ordered := domain.OrderedReserves{
		Lower:  pool(1_000_000, 1_500_000),
		Higher: pool(1_000_000, 2_000_000),
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = BorrowAmount(ordered)
	}
}
