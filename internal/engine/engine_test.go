package engine

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubiquity/arbitrage-bot/internal/domain"
	"github.com/ubiquity/arbitrage-bot/internal/ledger"
	"github.com/ubiquity/arbitrage-bot/internal/venue/ubiquity"
	"github.com/ubiquity/arbitrage-bot/internal/venue/uniswap"
)

var (
	selfAddr     = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	pairAddr     = common.HexToAddress("0x0000000000000000000000000000000000000fa1")
	poolAddr     = common.HexToAddress("0x0000000000000000000000000000000000000fb2")
	dollarTok    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	collTok      = common.HexToAddress("0x0000000000000000000000000000000000000002")
	govTok       = common.HexToAddress("0x0000000000000000000000000000000000000009")
	nativeTok    = common.HexToAddress("0x000000000000000000000000000000000000000e")
	attackerAddr = common.HexToAddress("0x0000000000000000000000000000000000000bad")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixtureConfig struct {
	reserveDollar     int64
	reserveCollateral int64
	priceUsd          int64
	redeemFeeBps      int64
	engineCollateral  int64
	wrapCollateral    bool
}

type fixture struct {
	ctx    context.Context
	led    *ledger.Ledger
	pair   *uniswap.Pair
	pool   *ubiquity.Pool
	engine *Engine
}

func newFixture(t *testing.T, cfg fixtureConfig) *fixture {
	t.Helper()
	ctx := context.Background()
	led := ledger.New()

	pair := uniswap.NewPair(led, pairAddr, dollarTok, collTok)
	require.NoError(t, led.Mint(ctx, dollarTok, pairAddr, big.NewInt(cfg.reserveDollar)))
	require.NoError(t, led.Mint(ctx, collTok, pairAddr, big.NewInt(cfg.reserveCollateral)))
	require.NoError(t, pair.Sync(ctx))

	pool, err := ubiquity.NewPool(led, ubiquity.PoolConfig{
		Address:          poolAddr,
		DollarToken:      dollarTok,
		GovernanceToken:  govTok,
		CollateralTokens: []common.Address{collTok},
		PriceUsd:         big.NewInt(cfg.priceUsd),
		RedeemFeeBps:     cfg.redeemFeeBps,
	})
	require.NoError(t, err)
	// Collateral float so redemptions can pay out.
	require.NoError(t, led.Mint(ctx, collTok, poolAddr, big.NewInt(10_000_000)))

	if cfg.engineCollateral > 0 {
		require.NoError(t, led.Mint(ctx, collTok, selfAddr, big.NewInt(cfg.engineCollateral)))
	}

	var unwrapper domain.NativeWrapper
	wrapped := common.Address{}
	if cfg.wrapCollateral {
		wrapped = collTok
		unwrapper = ledger.NewWrappedNative(led, collTok, nativeTok)
	}

	return &fixture{
		ctx:    ctx,
		led:    led,
		pair:   pair,
		pool:   pool,
		engine: New(led, unwrapper, selfAddr, wrapped, testLogger()),
	}
}

func (f *fixture) held(t *testing.T, token, account common.Address) int64 {
	t.Helper()
	bal, err := f.led.BalanceOf(f.ctx, token, account)
	require.NoError(t, err)
	return bal.Int64()
}

func TestAttemptMintAndSell(t *testing.T) {
	f := newFixture(t, fixtureConfig{
		reserveDollar:     1_000_000,
		reserveCollateral: 2_000_000,
		priceUsd:          1_500_000,
		engineCollateral:  300_000,
	})

	settlement, err := f.engine.Attempt(f.ctx, f.pair, f.pool, 0)
	require.NoError(t, err)
	require.NotNil(t, settlement)

	assert.Equal(t, domain.AttemptSettled, settlement.State)
	assert.Equal(t, domain.DirectionMintAndSell, settlement.Direction)
	assert.EqualValues(t, 154_700, settlement.BorrowAmount.Int64())
	assert.EqualValues(t, 232_050, settlement.DebtAmount.Int64())
	assert.EqualValues(t, 267_251, settlement.ProceedsOut.Int64())
	assert.EqualValues(t, 35_201, settlement.Profit.Int64())
	assert.Equal(t, collTok, settlement.ProfitToken)
	assert.NotEmpty(t, settlement.ID)
	assert.False(t, settlement.FinishedAt.Before(settlement.StartedAt))

	assert.EqualValues(t, 335_201, f.held(t, collTok, selfAddr))
	assert.EqualValues(t, 0, f.held(t, dollarTok, selfAddr), "all minted dollars are sold")

	r0, r1, err := f.pair.Reserves(f.ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1_154_700, r0.Int64())
	assert.EqualValues(t, 1_732_749, r1.Int64())
}

func TestAttemptFlashFromPair(t *testing.T) {
	f := newFixture(t, fixtureConfig{
		reserveDollar:     1_000_000,
		reserveCollateral: 1_500_000,
		priceUsd:          2_000_000,
	})

	settlement, err := f.engine.Attempt(f.ctx, f.pair, f.pool, 0)
	require.NoError(t, err)

	assert.Equal(t, domain.AttemptSettled, settlement.State)
	assert.Equal(t, domain.DirectionFlashFromPair, settlement.Direction)
	assert.EqualValues(t, 133_974, settlement.BorrowAmount.Int64())
	assert.EqualValues(t, 232_748, settlement.DebtAmount.Int64())
	assert.EqualValues(t, 267_948, settlement.ProceedsOut.Int64())
	assert.EqualValues(t, 35_200, settlement.Profit.Int64())

	// The flash direction starts from zero working capital.
	assert.EqualValues(t, 35_200, f.held(t, collTok, selfAddr))
	assert.EqualValues(t, 0, f.held(t, dollarTok, selfAddr), "borrowed dollars are fully redeemed")

	r0, r1, err := f.pair.Reserves(f.ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 866_026, r0.Int64())
	assert.EqualValues(t, 1_732_748, r1.Int64())
}

// The pair can list the dollar as token1 just as well; orientation must
// not change the economics.
func TestAttemptFlashDollarAsToken1(t *testing.T) {
	ctx := context.Background()
	led := ledger.New()

	// Swap the two token addresses so the collateral sorts first.
	dollar := common.HexToAddress("0x0000000000000000000000000000000000000002")
	collateral := common.HexToAddress("0x0000000000000000000000000000000000000001")

	pair := uniswap.NewPair(led, pairAddr, dollar, collateral)
	require.NoError(t, led.Mint(ctx, dollar, pairAddr, big.NewInt(1_000_000)))
	require.NoError(t, led.Mint(ctx, collateral, pairAddr, big.NewInt(1_500_000)))
	require.NoError(t, pair.Sync(ctx))

	pool, err := ubiquity.NewPool(led, ubiquity.PoolConfig{
		Address:          poolAddr,
		DollarToken:      dollar,
		GovernanceToken:  govTok,
		CollateralTokens: []common.Address{collateral},
		PriceUsd:         big.NewInt(2_000_000),
	})
	require.NoError(t, err)
	require.NoError(t, led.Mint(ctx, collateral, poolAddr, big.NewInt(10_000_000)))

	eng := New(led, nil, selfAddr, common.Address{}, testLogger())
	settlement, err := eng.Attempt(ctx, pair, pool, 0)
	require.NoError(t, err)

	assert.EqualValues(t, 133_974, settlement.BorrowAmount.Int64())
	assert.EqualValues(t, 35_200, settlement.Profit.Int64())
}

func TestAttemptUnprofitableAbortsAtomically(t *testing.T) {
	f := newFixture(t, fixtureConfig{
		reserveDollar:     1_000_000,
		reserveCollateral: 1_500_000,
		priceUsd:          2_000_000,
		// A 20% redemption fee sinks the spread the sizing ignored.
		redeemFeeBps: 2_000,
	})

	settlement, err := f.engine.Attempt(f.ctx, f.pair, f.pool, 0)
	require.ErrorIs(t, err, domain.ErrArbitrageUnprofitable)
	require.NotNil(t, settlement, "aborted attempts still return their trail")

	assert.Equal(t, domain.AttemptAborted, settlement.State)
	assert.NotEmpty(t, settlement.FailReason)

	assert.EqualValues(t, 0, f.held(t, collTok, selfAddr))
	assert.EqualValues(t, 0, f.held(t, dollarTok, selfAddr))
	assert.EqualValues(t, 1_000_000, f.held(t, dollarTok, pairAddr))
	assert.EqualValues(t, 1_500_000, f.held(t, collTok, pairAddr))
	assert.EqualValues(t, 10_000_000, f.held(t, collTok, poolAddr))

	r0, r1, err := f.pair.Reserves(f.ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1_000_000, r0.Int64())
	assert.EqualValues(t, 1_500_000, r1.Int64())
}

// inflatingFacility reports more redeem proceeds than it pays, which
// slips past the proceeds check and must be caught by the balance
// check.
type inflatingFacility struct {
	domain.MintVenue
	pad *big.Int
}

func (f *inflatingFacility) RedeemDollar(ctx context.Context, caller common.Address, index uint, dollarAmount, governanceOutMin, collateralOutMin *big.Int) (*big.Int, *big.Int, error) {
	gov, coll, err := f.MintVenue.RedeemDollar(ctx, caller, index, dollarAmount, governanceOutMin, collateralOutMin)
	if err != nil {
		return gov, coll, err
	}
	return gov, new(big.Int).Add(coll, f.pad), nil
}

func TestAttemptBalanceCheckCatchesMisreportedProceeds(t *testing.T) {
	f := newFixture(t, fixtureConfig{
		reserveDollar:     1_000_000,
		reserveCollateral: 1_500_000,
		priceUsd:          2_000_000,
		redeemFeeBps:      2_000,
		engineCollateral:  100_000,
	})
	lying := &inflatingFacility{MintVenue: f.pool, pad: big.NewInt(20_000)}

	settlement, err := f.engine.Attempt(f.ctx, f.pair, lying, 0)
	require.ErrorIs(t, err, domain.ErrBalanceNotIncreased)
	require.NotNil(t, settlement)
	assert.Equal(t, domain.AttemptAborted, settlement.State)

	assert.EqualValues(t, 100_000, f.held(t, collTok, selfAddr), "abort must restore the pre-attempt balance")
	assert.EqualValues(t, 1_000_000, f.held(t, dollarTok, pairAddr))
	assert.EqualValues(t, 1_500_000, f.held(t, collTok, pairAddr))
}

func TestAttemptNoSpreadAborts(t *testing.T) {
	f := newFixture(t, fixtureConfig{
		reserveDollar:     1_000_000,
		reserveCollateral: 2_000_000,
		priceUsd:          2_000_000,
	})

	settlement, err := f.engine.Attempt(f.ctx, f.pair, f.pool, 0)
	require.ErrorIs(t, err, domain.ErrNoProfitableSolution)
	require.NotNil(t, settlement)
	assert.Equal(t, domain.AttemptAborted, settlement.State)
	assert.Equal(t, domain.DirectionMintAndSell, settlement.Direction, "ties rank the facility as the cheap venue")
}

func TestAttemptUnwrapsProfit(t *testing.T) {
	f := newFixture(t, fixtureConfig{
		reserveDollar:     1_000_000,
		reserveCollateral: 1_500_000,
		priceUsd:          2_000_000,
		wrapCollateral:    true,
	})

	settlement, err := f.engine.Attempt(f.ctx, f.pair, f.pool, 0)
	require.NoError(t, err)

	assert.EqualValues(t, 35_200, settlement.Profit.Int64())
	assert.EqualValues(t, 0, f.held(t, collTok, selfAddr), "wrapped winnings are unwrapped")
	assert.EqualValues(t, 35_200, f.held(t, nativeTok, selfAddr))
}

func TestAttemptRejectsMismatchedVenues(t *testing.T) {
	f := newFixture(t, fixtureConfig{
		reserveDollar:     1_000_000,
		reserveCollateral: 1_500_000,
		priceUsd:          2_000_000,
	})

	_, err := f.engine.Attempt(f.ctx, nil, nil, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidVenuePair)

	// A facility whose collateral the pair does not trade.
	other, err := ubiquity.NewPool(f.led, ubiquity.PoolConfig{
		Address:          common.HexToAddress("0x0000000000000000000000000000000000000fc3"),
		DollarToken:      dollarTok,
		GovernanceToken:  govTok,
		CollateralTokens: []common.Address{attackerAddr},
		PriceUsd:         big.NewInt(2_000_000),
	})
	require.NoError(t, err)

	settlement, err := f.engine.Attempt(f.ctx, f.pair, other, 0)
	require.ErrorIs(t, err, domain.ErrInvalidVenuePair)
	require.NotNil(t, settlement)
	assert.Equal(t, domain.AttemptAborted, settlement.State)

	// Venues sharing one address cannot form a pair.
	shared, err := ubiquity.NewPool(f.led, ubiquity.PoolConfig{
		Address:          pairAddr,
		DollarToken:      dollarTok,
		GovernanceToken:  govTok,
		CollateralTokens: []common.Address{collTok},
		PriceUsd:         big.NewInt(2_000_000),
	})
	require.NoError(t, err)

	_, err = f.engine.Attempt(f.ctx, f.pair, shared, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidVenuePair)
}
