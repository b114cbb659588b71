package ubiquity

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubiquity/arbitrage-bot/internal/ledger"
)

var (
	poolAddr   = common.HexToAddress("0x0000000000000000000000000000000000000Fb2")
	dollarAddr = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	collAddr   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	govAddr    = common.HexToAddress("0x000000000000000000000000000000000000009a")
	minterAddr = common.HexToAddress("0x00000000000000000000000000000000000000e2")
)

func newPool(t *testing.T, led *ledger.Ledger, cfg PoolConfig) *Pool {
	t.Helper()
	if cfg.Address == (common.Address{}) {
		cfg.Address = poolAddr
	}
	if cfg.DollarToken == (common.Address{}) {
		cfg.DollarToken = dollarAddr
	}
	if cfg.GovernanceToken == (common.Address{}) {
		cfg.GovernanceToken = govAddr
	}
	if cfg.CollateralTokens == nil {
		cfg.CollateralTokens = []common.Address{collAddr}
	}
	pool, err := NewPool(led, cfg)
	require.NoError(t, err)
	return pool
}

func held(t *testing.T, led *ledger.Ledger, token, account common.Address) int64 {
	t.Helper()
	bal, err := led.BalanceOf(context.Background(), token, account)
	require.NoError(t, err)
	return bal.Int64()
}

func TestNewPoolValidates(t *testing.T) {
	led := ledger.New()

	_, err := NewPool(led, PoolConfig{CollateralTokens: []common.Address{collAddr}})
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = NewPool(led, PoolConfig{PriceUsd: big.NewInt(1_000_000)})
	assert.Error(t, err)

	_, err = NewPool(led, PoolConfig{
		PriceUsd:         big.NewInt(1_000_000),
		CollateralTokens: []common.Address{collAddr},
		CollateralRatio:  big.NewInt(1_000_001),
	})
	assert.Error(t, err)
}

func TestQuoteMint(t *testing.T) {
	led := ledger.New()
	pool := newPool(t, led, PoolConfig{PriceUsd: big.NewInt(1_500_000)})
	ctx := context.Background()

	quote, err := pool.QuoteMint(ctx, 0, big.NewInt(154_700))
	require.NoError(t, err)
	assert.EqualValues(t, 232_050, quote.Int64())

	// Odd amounts round the collateral cost up.
	quote, err = pool.QuoteMint(ctx, 0, big.NewInt(1))
	require.NoError(t, err)
	assert.EqualValues(t, 2, quote.Int64())

	_, err = pool.QuoteMint(ctx, 3, big.NewInt(100))
	assert.ErrorIs(t, err, ErrUnknownCollateral)

	_, err = pool.QuoteMint(ctx, 0, big.NewInt(0))
	assert.ErrorIs(t, err, ErrInvalidDollarAmount)
}

func TestQuoteMintWithFee(t *testing.T) {
	led := ledger.New()
	pool := newPool(t, led, PoolConfig{PriceUsd: big.NewInt(1_500_000), MintFeeBps: 10})

	quote, err := pool.QuoteMint(context.Background(), 0, big.NewInt(154_700))
	require.NoError(t, err)
	assert.EqualValues(t, 232_050+233, quote.Int64())
}

func TestQuoteRedeem(t *testing.T) {
	led := ledger.New()
	pool := newPool(t, led, PoolConfig{PriceUsd: big.NewInt(2_000_000)})
	ctx := context.Background()

	quote, err := pool.QuoteRedeem(ctx, 0, big.NewInt(133_974))
	require.NoError(t, err)
	assert.EqualValues(t, 267_948, quote.Int64())

	// Truncation favours the facility on the way out.
	pool2 := newPool(t, led, PoolConfig{PriceUsd: big.NewInt(1_500_000)})
	quote, err = pool2.QuoteRedeem(ctx, 0, big.NewInt(3))
	require.NoError(t, err)
	assert.EqualValues(t, 4, quote.Int64())
}

func TestQuoteRedeemWithFee(t *testing.T) {
	led := ledger.New()
	pool := newPool(t, led, PoolConfig{PriceUsd: big.NewInt(2_000_000), RedeemFeeBps: 10})

	quote, err := pool.QuoteRedeem(context.Background(), 0, big.NewInt(133_974))
	require.NoError(t, err)
	assert.EqualValues(t, 267_948-268, quote.Int64())
}

func TestMintDollarOneToOne(t *testing.T) {
	ctx := context.Background()
	led := ledger.New()
	pool := newPool(t, led, PoolConfig{PriceUsd: big.NewInt(1_500_000)})
	require.NoError(t, led.Mint(ctx, collAddr, minterAddr, big.NewInt(232_050)))

	minted, collateralUsed, governanceUsed, err := pool.MintDollar(
		ctx, minterAddr, 0,
		big.NewInt(154_700), big.NewInt(154_700), big.NewInt(232_050), big.NewInt(0), true,
	)
	require.NoError(t, err)

	assert.EqualValues(t, 154_700, minted.Int64())
	assert.EqualValues(t, 232_050, collateralUsed.Int64())
	assert.EqualValues(t, 0, governanceUsed.Int64())

	assert.EqualValues(t, 154_700, held(t, led, dollarAddr, minterAddr))
	assert.EqualValues(t, 0, held(t, led, collAddr, minterAddr))
	assert.EqualValues(t, 232_050, held(t, led, collAddr, poolAddr))
}

func TestMintDollarSlippage(t *testing.T) {
	ctx := context.Background()
	led := ledger.New()
	pool := newPool(t, led, PoolConfig{PriceUsd: big.NewInt(1_500_000)})
	require.NoError(t, led.Mint(ctx, collAddr, minterAddr, big.NewInt(1_000_000)))

	_, _, _, err := pool.MintDollar(
		ctx, minterAddr, 0,
		big.NewInt(154_700), nil, big.NewInt(232_049), nil, true,
	)
	assert.ErrorIs(t, err, ErrSlippage)
	assert.EqualValues(t, 1_000_000, held(t, led, collAddr, minterAddr), "failed mint must not move collateral")
	assert.EqualValues(t, 0, held(t, led, dollarAddr, minterAddr))
}

func TestMintDollarUnderfunded(t *testing.T) {
	ctx := context.Background()
	led := ledger.New()
	pool := newPool(t, led, PoolConfig{PriceUsd: big.NewInt(1_500_000)})
	require.NoError(t, led.Mint(ctx, collAddr, minterAddr, big.NewInt(100)))

	_, _, _, err := pool.MintDollar(
		ctx, minterAddr, 0,
		big.NewInt(154_700), nil, nil, nil, true,
	)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestRedeemDollar(t *testing.T) {
	ctx := context.Background()
	led := ledger.New()
	pool := newPool(t, led, PoolConfig{PriceUsd: big.NewInt(2_000_000)})
	require.NoError(t, led.Mint(ctx, collAddr, poolAddr, big.NewInt(500_000)))
	require.NoError(t, led.Mint(ctx, dollarAddr, minterAddr, big.NewInt(133_974)))

	governanceOut, collateralOut, err := pool.RedeemDollar(
		ctx, minterAddr, 0,
		big.NewInt(133_974), big.NewInt(0), big.NewInt(267_948),
	)
	require.NoError(t, err)

	assert.EqualValues(t, 0, governanceOut.Int64())
	assert.EqualValues(t, 267_948, collateralOut.Int64())

	assert.EqualValues(t, 0, held(t, led, dollarAddr, minterAddr), "redeemed dollars are burned")
	assert.EqualValues(t, 267_948, held(t, led, collAddr, minterAddr))
	assert.EqualValues(t, 232_052, held(t, led, collAddr, poolAddr))
}

func TestRedeemDollarSlippage(t *testing.T) {
	ctx := context.Background()
	led := ledger.New()
	pool := newPool(t, led, PoolConfig{PriceUsd: big.NewInt(2_000_000)})
	require.NoError(t, led.Mint(ctx, collAddr, poolAddr, big.NewInt(500_000)))
	require.NoError(t, led.Mint(ctx, dollarAddr, minterAddr, big.NewInt(133_974)))

	_, _, err := pool.RedeemDollar(
		ctx, minterAddr, 0,
		big.NewInt(133_974), nil, big.NewInt(267_949),
	)
	assert.ErrorIs(t, err, ErrSlippage)
	assert.EqualValues(t, 133_974, held(t, led, dollarAddr, minterAddr))
}

func TestRedeemDollarPoolUnderfunded(t *testing.T) {
	ctx := context.Background()
	led := ledger.New()
	pool := newPool(t, led, PoolConfig{PriceUsd: big.NewInt(2_000_000)})
	require.NoError(t, led.Mint(ctx, collAddr, poolAddr, big.NewInt(10)))
	require.NoError(t, led.Mint(ctx, dollarAddr, minterAddr, big.NewInt(133_974)))

	err := led.Atomic(ctx, func(ctx context.Context) error {
		_, _, err := pool.RedeemDollar(ctx, minterAddr, 0, big.NewInt(133_974), nil, nil)
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.EqualValues(t, 133_974, held(t, led, dollarAddr, minterAddr))
}

func TestMintDollarFractionalRatio(t *testing.T) {
	ctx := context.Background()
	led := ledger.New()
	pool := newPool(t, led, PoolConfig{
		PriceUsd:           big.NewInt(2_000_000),
		GovernancePriceUsd: big.NewInt(4_000_000),
		CollateralRatio:    big.NewInt(900_000),
	})
	require.NoError(t, led.Mint(ctx, collAddr, minterAddr, big.NewInt(18_000)))
	require.NoError(t, led.Mint(ctx, govAddr, minterAddr, big.NewInt(500)))

	minted, collateralUsed, governanceUsed, err := pool.MintDollar(
		ctx, minterAddr, 0,
		big.NewInt(10_000), nil, nil, nil, false,
	)
	require.NoError(t, err)

	assert.EqualValues(t, 10_000, minted.Int64())
	assert.EqualValues(t, 18_000, collateralUsed.Int64())
	assert.EqualValues(t, 500, governanceUsed.Int64())

	assert.EqualValues(t, 0, held(t, led, govAddr, minterAddr), "governance leg is burned")
	assert.EqualValues(t, 10_000, held(t, led, dollarAddr, minterAddr))
}

func TestRedeemDollarFractionalRatio(t *testing.T) {
	ctx := context.Background()
	led := ledger.New()
	pool := newPool(t, led, PoolConfig{
		PriceUsd:           big.NewInt(2_000_000),
		GovernancePriceUsd: big.NewInt(4_000_000),
		CollateralRatio:    big.NewInt(900_000),
	})
	require.NoError(t, led.Mint(ctx, collAddr, poolAddr, big.NewInt(100_000)))
	require.NoError(t, led.Mint(ctx, dollarAddr, minterAddr, big.NewInt(10_000)))

	governanceOut, collateralOut, err := pool.RedeemDollar(
		ctx, minterAddr, 0,
		big.NewInt(10_000), big.NewInt(500), big.NewInt(18_000),
	)
	require.NoError(t, err)

	assert.EqualValues(t, 500, governanceOut.Int64())
	assert.EqualValues(t, 18_000, collateralOut.Int64())
	assert.EqualValues(t, 500, held(t, led, govAddr, minterAddr), "governance leg is minted back")
}

func TestSetPrice(t *testing.T) {
	led := ledger.New()
	pool := newPool(t, led, PoolConfig{PriceUsd: big.NewInt(1_500_000)})
	ctx := context.Background()

	require.NoError(t, pool.SetPrice(big.NewInt(2_250_000)))
	price, err := pool.SpotPriceUsd(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2_250_000, price.Int64())

	assert.ErrorIs(t, pool.SetPrice(big.NewInt(0)), ErrInvalidPrice)
	assert.ErrorIs(t, pool.SetPrice(nil), ErrInvalidPrice)
}
