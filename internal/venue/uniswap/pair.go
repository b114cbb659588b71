// Package uniswap simulates a constant-product pair with V2 pair
// semantics: transfer-then-swap payment, optimistic output transfers
// with a re-entrant flash callback, and the fee-adjusted product check
// deciding every swap.
package uniswap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ubiquity/arbitrage-bot/internal/domain"
	"github.com/ubiquity/arbitrage-bot/internal/univ2"
)

var (
	ErrInsufficientOutput    = errors.New("uniswap: insufficient output amount")
	ErrInsufficientLiquidity = errors.New("uniswap: insufficient liquidity")
	ErrInsufficientInput     = errors.New("uniswap: insufficient input amount")
	ErrProductViolated       = errors.New("uniswap: constant product violated")
	ErrReentrantSwap         = errors.New("uniswap: reentrant swap")
)

// Pair is one simulated pool. Token balances live on the shared ledger
// under the pair's address; reserves are the pair's last synced view of
// those balances.
type Pair struct {
	address common.Address
	token0  common.Address
	token1  common.Address
	ledger  domain.Ledger

	gate     sync.Mutex // swap-scoped reentrancy guard
	mu       sync.Mutex
	reserve0 *big.Int
	reserve1 *big.Int
}

var _ domain.AmmVenue = (*Pair)(nil)

// NewPair orders the two tokens the way a factory does, lowest address
// first.
func NewPair(ledger domain.Ledger, address, tokenA, tokenB common.Address) *Pair {
	token0, token1 := tokenA, tokenB
	if bytes.Compare(tokenA.Bytes(), tokenB.Bytes()) > 0 {
		token0, token1 = tokenB, tokenA
	}
	return &Pair{
		address:  address,
		token0:   token0,
		token1:   token1,
		ledger:   ledger,
		reserve0: new(big.Int),
		reserve1: new(big.Int),
	}
}

func (p *Pair) Address() common.Address { return p.address }

func (p *Pair) Token0(_ context.Context) (common.Address, error) { return p.token0, nil }

func (p *Pair) Token1(_ context.Context) (common.Address, error) { return p.token1, nil }

func (p *Pair) Reserves(_ context.Context) (*big.Int, *big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.reserve0), new(big.Int).Set(p.reserve1), nil
}

// Sync snaps reserves to the pair's current ledger balances. Seeding
// liquidity is a transfer to the pair's address followed by Sync.
func (p *Pair) Sync(ctx context.Context) error {
	balance0, err := p.ledger.BalanceOf(ctx, p.token0, p.address)
	if err != nil {
		return fmt.Errorf("uniswap: sync token0: %w", err)
	}
	balance1, err := p.ledger.BalanceOf(ctx, p.token1, p.address)
	if err != nil {
		return fmt.Errorf("uniswap: sync token1: %w", err)
	}

	p.mu.Lock()
	p.reserve0.Set(balance0)
	p.reserve1.Set(balance1)
	p.mu.Unlock()
	return nil
}

// Swap pays the requested amounts out, lets the recipient's flash
// callback run when data is non-empty, then derives what was paid in
// from the balance delta and enforces the fee-adjusted constant
// product. Balances mutate before the checks can fail, so attempts
// must run inside an Atomic ledger scope for a failed swap to unwind.
func (p *Pair) Swap(ctx context.Context, caller common.Address, amount0Out, amount1Out *big.Int, to domain.FlashRecipient, data []byte) error {
	if !p.gate.TryLock() {
		return ErrReentrantSwap
	}
	defer p.gate.Unlock()

	if amount0Out == nil || amount1Out == nil || amount0Out.Sign() < 0 || amount1Out.Sign() < 0 {
		return ErrInsufficientOutput
	}
	if amount0Out.Sign() == 0 && amount1Out.Sign() == 0 {
		return ErrInsufficientOutput
	}

	p.mu.Lock()
	reserve0 := new(big.Int).Set(p.reserve0)
	reserve1 := new(big.Int).Set(p.reserve1)
	p.mu.Unlock()

	if amount0Out.Cmp(reserve0) >= 0 || amount1Out.Cmp(reserve1) >= 0 {
		return fmt.Errorf("out (%s, %s) against reserves (%s, %s): %w",
			amount0Out, amount1Out, reserve0, reserve1, ErrInsufficientLiquidity)
	}

	if amount0Out.Sign() > 0 {
		if err := p.ledger.Transfer(ctx, p.token0, p.address, to.Address(), amount0Out); err != nil {
			return fmt.Errorf("uniswap: pay out token0: %w", err)
		}
	}
	if amount1Out.Sign() > 0 {
		if err := p.ledger.Transfer(ctx, p.token1, p.address, to.Address(), amount1Out); err != nil {
			return fmt.Errorf("uniswap: pay out token1: %w", err)
		}
	}

	if len(data) > 0 {
		if err := to.OnFlashSwap(ctx, p.address, caller, amount0Out, amount1Out, data); err != nil {
			return fmt.Errorf("uniswap: flash callback: %w", err)
		}
	}

	balance0, err := p.ledger.BalanceOf(ctx, p.token0, p.address)
	if err != nil {
		return fmt.Errorf("uniswap: read balance0: %w", err)
	}
	balance1, err := p.ledger.BalanceOf(ctx, p.token1, p.address)
	if err != nil {
		return fmt.Errorf("uniswap: read balance1: %w", err)
	}

	amount0In := inputAmount(balance0, reserve0, amount0Out)
	amount1In := inputAmount(balance1, reserve1, amount1Out)
	if amount0In.Sign() == 0 && amount1In.Sign() == 0 {
		return ErrInsufficientInput
	}

	if !univ2.KHolds(balance0, balance1, amount0In, amount1In, reserve0, reserve1) {
		return fmt.Errorf("in (%s, %s), out (%s, %s): %w",
			amount0In, amount1In, amount0Out, amount1Out, ErrProductViolated)
	}

	p.mu.Lock()
	p.reserve0.Set(balance0)
	p.reserve1.Set(balance1)
	p.mu.Unlock()
	return nil
}

func inputAmount(balance, reserve, amountOut *big.Int) *big.Int {
	in := new(big.Int).Sub(reserve, amountOut)
	in.Sub(balance, in)
	if in.Sign() < 0 {
		return new(big.Int)
	}
	return in
}
