package uniswap

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubiquity/arbitrage-bot/internal/ledger"
)

var (
	pairAddr   = common.HexToAddress("0x0000000000000000000000000000000000000Fa1")
	token0Addr = common.HexToAddress("0x0000000000000000000000000000000000000001")
	token1Addr = common.HexToAddress("0x0000000000000000000000000000000000000002")
	traderAddr = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	errBoom    = errors.New("boom")
)

type stubRecipient struct {
	addr    common.Address
	onFlash func(ctx context.Context, venue, initiator common.Address, out0, out1 *big.Int, data []byte) error
}

func (s *stubRecipient) Address() common.Address { return s.addr }

func (s *stubRecipient) OnFlashSwap(ctx context.Context, venue, initiator common.Address, out0, out1 *big.Int, data []byte) error {
	if s.onFlash == nil {
		return nil
	}
	return s.onFlash(ctx, venue, initiator, out0, out1, data)
}

func fixture(t *testing.T, reserve0, reserve1 int64) (context.Context, *ledger.Ledger, *Pair) {
	t.Helper()
	ctx := context.Background()
	led := ledger.New()
	pair := NewPair(led, pairAddr, token0Addr, token1Addr)
	require.NoError(t, led.Mint(ctx, token0Addr, pairAddr, big.NewInt(reserve0)))
	require.NoError(t, led.Mint(ctx, token1Addr, pairAddr, big.NewInt(reserve1)))
	require.NoError(t, pair.Sync(ctx))
	return ctx, led, pair
}

func held(t *testing.T, led *ledger.Ledger, token, account common.Address) int64 {
	t.Helper()
	bal, err := led.BalanceOf(context.Background(), token, account)
	require.NoError(t, err)
	return bal.Int64()
}

func TestNewPairOrdersTokens(t *testing.T) {
	led := ledger.New()
	pair := NewPair(led, pairAddr, token1Addr, token0Addr)

	got0, err := pair.Token0(context.Background())
	require.NoError(t, err)
	got1, err := pair.Token1(context.Background())
	require.NoError(t, err)

	assert.Equal(t, token0Addr, got0)
	assert.Equal(t, token1Addr, got1)
}

func TestSyncTracksBalances(t *testing.T) {
	ctx, led, pair := fixture(t, 1_000_000, 2_000_000)

	r0, r1, err := pair.Reserves(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1_000_000, r0.Int64())
	assert.EqualValues(t, 2_000_000, r1.Int64())

	require.NoError(t, led.Mint(ctx, token0Addr, pairAddr, big.NewInt(500)))
	require.NoError(t, pair.Sync(ctx))

	r0, _, err = pair.Reserves(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1_000_500, r0.Int64())
}

func TestSwapPlain(t *testing.T) {
	ctx, led, pair := fixture(t, 1_000_000, 2_000_000)
	trader := &stubRecipient{addr: traderAddr}

	// Pay 1000 of token0 onto the pair, then take the quoted 1992.
	require.NoError(t, led.Mint(ctx, token0Addr, traderAddr, big.NewInt(1_000)))
	require.NoError(t, led.Transfer(ctx, token0Addr, traderAddr, pairAddr, big.NewInt(1_000)))
	require.NoError(t, pair.Swap(ctx, traderAddr, big.NewInt(0), big.NewInt(1_992), trader, nil))

	assert.EqualValues(t, 1_992, held(t, led, token1Addr, traderAddr))
	assert.EqualValues(t, 0, held(t, led, token0Addr, traderAddr))

	r0, r1, err := pair.Reserves(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1_001_000, r0.Int64())
	assert.EqualValues(t, 1_998_008, r1.Int64())
}

func TestSwapRejectsExcessOutput(t *testing.T) {
	ctx, led, pair := fixture(t, 1_000_000, 2_000_000)
	trader := &stubRecipient{addr: traderAddr}

	require.NoError(t, led.Mint(ctx, token0Addr, traderAddr, big.NewInt(1_000)))

	// One unit above the quote breaks the product. The failed swap has
	// already moved balances, so run it in an atomic scope the way the
	// settlement engine does.
	err := led.Atomic(ctx, func(ctx context.Context) error {
		if err := led.Transfer(ctx, token0Addr, traderAddr, pairAddr, big.NewInt(1_000)); err != nil {
			return err
		}
		return pair.Swap(ctx, traderAddr, big.NewInt(0), big.NewInt(1_993), trader, nil)
	})
	require.ErrorIs(t, err, ErrProductViolated)

	assert.EqualValues(t, 1_000, held(t, led, token0Addr, traderAddr))
	assert.EqualValues(t, 0, held(t, led, token1Addr, traderAddr))
	assert.EqualValues(t, 1_000_000, held(t, led, token0Addr, pairAddr))
	assert.EqualValues(t, 2_000_000, held(t, led, token1Addr, pairAddr))
}

func TestSwapRejectsUnpaidOutput(t *testing.T) {
	ctx, led, pair := fixture(t, 1_000_000, 2_000_000)
	trader := &stubRecipient{addr: traderAddr}

	err := led.Atomic(ctx, func(ctx context.Context) error {
		return pair.Swap(ctx, traderAddr, big.NewInt(0), big.NewInt(100), trader, nil)
	})
	assert.ErrorIs(t, err, ErrInsufficientInput)
}

func TestSwapValidatesAmounts(t *testing.T) {
	ctx, _, pair := fixture(t, 1_000_000, 2_000_000)
	trader := &stubRecipient{addr: traderAddr}

	err := pair.Swap(ctx, traderAddr, big.NewInt(0), big.NewInt(0), trader, nil)
	assert.ErrorIs(t, err, ErrInsufficientOutput)

	err = pair.Swap(ctx, traderAddr, nil, big.NewInt(10), trader, nil)
	assert.ErrorIs(t, err, ErrInsufficientOutput)

	err = pair.Swap(ctx, traderAddr, big.NewInt(-1), big.NewInt(10), trader, nil)
	assert.ErrorIs(t, err, ErrInsufficientOutput)

	err = pair.Swap(ctx, traderAddr, big.NewInt(1_000_000), big.NewInt(0), trader, nil)
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestSwapFlashRepaid(t *testing.T) {
	ctx, led, pair := fixture(t, 1_000_000, 2_000_000)

	var gotVenue, gotInitiator common.Address
	trader := &stubRecipient{
		addr: traderAddr,
		onFlash: func(ctx context.Context, venue, initiator common.Address, out0, out1 *big.Int, data []byte) error {
			gotVenue, gotInitiator = venue, initiator
			assert.EqualValues(t, 1_000, out0.Int64())
			assert.EqualValues(t, 0, out1.Int64())
			assert.Equal(t, []byte("payload"), data)

			// Borrowed 1000 of token0 arrives before the callback;
			// repay it in kind with the flash premium.
			if err := led.Mint(ctx, token0Addr, traderAddr, big.NewInt(4)); err != nil {
				return err
			}
			return led.Transfer(ctx, token0Addr, traderAddr, pairAddr, big.NewInt(1_004))
		},
	}

	err := pair.Swap(ctx, traderAddr, big.NewInt(1_000), big.NewInt(0), trader, []byte("payload"))
	require.NoError(t, err)

	assert.Equal(t, pairAddr, gotVenue)
	assert.Equal(t, traderAddr, gotInitiator)

	r0, r1, err := pair.Reserves(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1_000_004, r0.Int64())
	assert.EqualValues(t, 2_000_000, r1.Int64())
}

func TestSwapFlashUnpaidReverts(t *testing.T) {
	ctx, led, pair := fixture(t, 1_000_000, 2_000_000)
	trader := &stubRecipient{addr: traderAddr}

	err := led.Atomic(ctx, func(ctx context.Context) error {
		return pair.Swap(ctx, traderAddr, big.NewInt(1_000), big.NewInt(0), trader, []byte("x"))
	})
	require.ErrorIs(t, err, ErrInsufficientInput)

	assert.EqualValues(t, 0, held(t, led, token0Addr, traderAddr))
	assert.EqualValues(t, 1_000_000, held(t, led, token0Addr, pairAddr))
}

func TestSwapFlashCallbackErrorPropagates(t *testing.T) {
	ctx, led, pair := fixture(t, 1_000_000, 2_000_000)
	trader := &stubRecipient{
		addr: traderAddr,
		onFlash: func(context.Context, common.Address, common.Address, *big.Int, *big.Int, []byte) error {
			return errBoom
		},
	}

	err := led.Atomic(ctx, func(ctx context.Context) error {
		return pair.Swap(ctx, traderAddr, big.NewInt(1_000), big.NewInt(0), trader, []byte("x"))
	})
	assert.ErrorIs(t, err, errBoom)
	assert.EqualValues(t, 1_000_000, held(t, led, token0Addr, pairAddr))
}

func TestSwapReentrancyRejected(t *testing.T) {
	ctx, _, pair := fixture(t, 1_000_000, 2_000_000)

	trader := &stubRecipient{addr: traderAddr}
	trader.onFlash = func(ctx context.Context, _, _ common.Address, _, _ *big.Int, _ []byte) error {
		return pair.Swap(ctx, traderAddr, big.NewInt(0), big.NewInt(10), trader, []byte("again"))
	}

	err := pair.Swap(ctx, traderAddr, big.NewInt(1_000), big.NewInt(0), trader, []byte("x"))
	assert.ErrorIs(t, err, ErrReentrantSwap)
}
