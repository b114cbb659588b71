package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenA  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	alice   = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob     = common.HexToAddress("0x0000000000000000000000000000000000000b22")
	errBoom = errors.New("boom")
)

func balance(t *testing.T, l *Ledger, token, account common.Address) int64 {
	t.Helper()
	bal, err := l.BalanceOf(context.Background(), token, account)
	require.NoError(t, err)
	return bal.Int64()
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	l := New()
	require.NoError(t, l.Mint(ctx, tokenA, alice, big.NewInt(1_000)))

	require.NoError(t, l.Transfer(ctx, tokenA, alice, bob, big.NewInt(400)))
	assert.EqualValues(t, 600, balance(t, l, tokenA, alice))
	assert.EqualValues(t, 400, balance(t, l, tokenA, bob))

	err := l.Transfer(ctx, tokenA, alice, bob, big.NewInt(601))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.EqualValues(t, 600, balance(t, l, tokenA, alice), "failed transfer must not move anything")

	err = l.Transfer(ctx, tokenA, alice, bob, big.NewInt(-5))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	err = l.Transfer(ctx, tokenA, alice, bob, nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestTransferSelf(t *testing.T) {
	ctx := context.Background()
	l := New()
	require.NoError(t, l.Mint(ctx, tokenA, alice, big.NewInt(100)))

	require.NoError(t, l.Transfer(ctx, tokenA, alice, alice, big.NewInt(70)))
	assert.EqualValues(t, 100, balance(t, l, tokenA, alice))
}

func TestBurn(t *testing.T) {
	ctx := context.Background()
	l := New()
	require.NoError(t, l.Mint(ctx, tokenA, alice, big.NewInt(50)))

	require.NoError(t, l.Burn(ctx, tokenA, alice, big.NewInt(20)))
	assert.EqualValues(t, 30, balance(t, l, tokenA, alice))

	err := l.Burn(ctx, tokenA, alice, big.NewInt(31))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestBalanceOfReturnsCopy(t *testing.T) {
	ctx := context.Background()
	l := New()
	require.NoError(t, l.Mint(ctx, tokenA, alice, big.NewInt(10)))

	bal, err := l.BalanceOf(ctx, tokenA, alice)
	require.NoError(t, err)
	bal.SetInt64(999_999)

	assert.EqualValues(t, 10, balance(t, l, tokenA, alice), "caller mutation must not leak into the book")
}

func TestAtomicRollback(t *testing.T) {
	ctx := context.Background()
	l := New()
	require.NoError(t, l.Mint(ctx, tokenA, alice, big.NewInt(1_000)))
	require.NoError(t, l.Mint(ctx, tokenB, bob, big.NewInt(2_000)))

	err := l.Atomic(ctx, func(ctx context.Context) error {
		if err := l.Transfer(ctx, tokenA, alice, bob, big.NewInt(1_000)); err != nil {
			return err
		}
		if err := l.Burn(ctx, tokenB, bob, big.NewInt(500)); err != nil {
			return err
		}
		if err := l.Mint(ctx, tokenB, alice, big.NewInt(123)); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	assert.EqualValues(t, 1_000, balance(t, l, tokenA, alice))
	assert.EqualValues(t, 0, balance(t, l, tokenA, bob))
	assert.EqualValues(t, 2_000, balance(t, l, tokenB, bob))
	assert.EqualValues(t, 0, balance(t, l, tokenB, alice))
}

func TestAtomicCommit(t *testing.T) {
	ctx := context.Background()
	l := New()
	require.NoError(t, l.Mint(ctx, tokenA, alice, big.NewInt(300)))

	err := l.Atomic(ctx, func(ctx context.Context) error {
		return l.Transfer(ctx, tokenA, alice, bob, big.NewInt(300))
	})
	require.NoError(t, err)

	assert.EqualValues(t, 0, balance(t, l, tokenA, alice))
	assert.EqualValues(t, 300, balance(t, l, tokenA, bob))
}

func TestAtomicNested(t *testing.T) {
	ctx := context.Background()
	l := New()
	require.NoError(t, l.Mint(ctx, tokenA, alice, big.NewInt(100)))

	err := l.Atomic(ctx, func(ctx context.Context) error {
		if err := l.Transfer(ctx, tokenA, alice, bob, big.NewInt(40)); err != nil {
			return err
		}
		inner := l.Atomic(ctx, func(ctx context.Context) error {
			if err := l.Transfer(ctx, tokenA, alice, bob, big.NewInt(60)); err != nil {
				return err
			}
			return errBoom
		})
		require.ErrorIs(t, inner, errBoom)
		return nil
	})
	require.NoError(t, err)

	assert.EqualValues(t, 60, balance(t, l, tokenA, alice), "outer scope survives, inner rolls back")
	assert.EqualValues(t, 40, balance(t, l, tokenA, bob))
}

func TestWrappedNative(t *testing.T) {
	ctx := context.Background()
	l := New()
	wrapped := common.HexToAddress("0x000000000000000000000000000000000000cafe")
	native := common.HexToAddress("0x000000000000000000000000000000000000f00d")
	w := NewWrappedNative(l, wrapped, native)

	require.NoError(t, l.Mint(ctx, wrapped, alice, big.NewInt(500)))

	require.NoError(t, w.Unwrap(ctx, alice, big.NewInt(200)))
	assert.EqualValues(t, 300, balance(t, l, wrapped, alice))
	assert.EqualValues(t, 200, balance(t, l, native, alice))

	err := w.Unwrap(ctx, alice, big.NewInt(301))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	require.NoError(t, w.Wrap(ctx, alice, big.NewInt(150)))
	assert.EqualValues(t, 450, balance(t, l, wrapped, alice))
	assert.EqualValues(t, 50, balance(t, l, native, alice))
}
