// Package ledger is the in-memory token book the simulated venues
// settle against. It gives the settlement path the one property it
// cannot provide for itself: an aborted attempt rolls every balance
// back to its pre-attempt value.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ubiquity/arbitrage-bot/internal/domain"
)

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrInvalidAmount       = errors.New("ledger: invalid amount")
)

type balances map[common.Address]map[common.Address]*big.Int

// Ledger tracks per-token account balances. Individual operations are
// safe for concurrent use; Atomic scopes assume the caller serializes
// attempts, which the settlement engine's single-flight lock does.
type Ledger struct {
	mu    sync.Mutex
	books balances
}

var (
	_ domain.AtomicLedger  = (*Ledger)(nil)
	_ domain.NativeWrapper = (*WrappedNative)(nil)
)

func New() *Ledger {
	return &Ledger{books: make(balances)}
}

// BalanceOf returns a copy of the account's balance, zero when the
// account has never been touched.
func (l *Ledger) BalanceOf(_ context.Context, token, account common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balanceLocked(token, account)), nil
}

// Transfer moves amount between accounts, failing whole when the
// sender cannot cover it.
func (l *Ledger) Transfer(_ context.Context, token, from, to common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	held := l.balanceLocked(token, from)
	if held.Cmp(amount) < 0 {
		return fmt.Errorf("transfer %s of %s from %s: held %s: %w", amount, token, from, held, ErrInsufficientBalance)
	}
	held.Sub(held, amount)
	credit := l.balanceLocked(token, to)
	credit.Add(credit, amount)
	return nil
}

// Mint credits freshly issued units to the account.
func (l *Ledger) Mint(_ context.Context, token, to common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	credit := l.balanceLocked(token, to)
	credit.Add(credit, amount)
	return nil
}

// Burn destroys units held by the account, failing whole when the
// account cannot cover it.
func (l *Ledger) Burn(_ context.Context, token, from common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	held := l.balanceLocked(token, from)
	if held.Cmp(amount) < 0 {
		return fmt.Errorf("burn %s of %s from %s: held %s: %w", amount, token, from, held, ErrInsufficientBalance)
	}
	held.Sub(held, amount)
	return nil
}

// Atomic runs fn and restores the pre-call balance book if fn fails,
// so a failed settlement leaves no trace. Scopes nest; an inner
// rollback only unwinds the inner scope.
func (l *Ledger) Atomic(ctx context.Context, fn func(context.Context) error) error {
	l.mu.Lock()
	snap := l.snapshotLocked()
	l.mu.Unlock()

	if err := fn(ctx); err != nil {
		l.mu.Lock()
		l.books = snap
		l.mu.Unlock()
		return err
	}
	return nil
}

func (l *Ledger) balanceLocked(token, account common.Address) *big.Int {
	book, ok := l.books[token]
	if !ok {
		book = make(map[common.Address]*big.Int)
		l.books[token] = book
	}
	bal, ok := book[account]
	if !ok {
		bal = new(big.Int)
		book[account] = bal
	}
	return bal
}

func (l *Ledger) snapshotLocked() balances {
	snap := make(balances, len(l.books))
	for token, book := range l.books {
		copied := make(map[common.Address]*big.Int, len(book))
		for account, bal := range book {
			copied[account] = new(big.Int).Set(bal)
		}
		snap[token] = copied
	}
	return snap
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("amount %s: %w", amount, ErrInvalidAmount)
	}
	return nil
}

// WrappedNative converts between a wrapped token and its native asset,
// the way a deposit/withdraw pair on a wrapper contract does.
type WrappedNative struct {
	ledger  *Ledger
	wrapped common.Address
	native  common.Address
}

func NewWrappedNative(l *Ledger, wrapped, native common.Address) *WrappedNative {
	return &WrappedNative{ledger: l, wrapped: wrapped, native: native}
}

// Unwrap burns wrapped units and credits the same amount of native.
func (w *WrappedNative) Unwrap(ctx context.Context, account common.Address, amount *big.Int) error {
	if err := w.ledger.Burn(ctx, w.wrapped, account, amount); err != nil {
		return fmt.Errorf("unwrap: %w", err)
	}
	return w.ledger.Mint(ctx, w.native, account, amount)
}

// Wrap burns native units and credits the same amount of wrapped.
func (w *WrappedNative) Wrap(ctx context.Context, account common.Address, amount *big.Int) error {
	if err := w.ledger.Burn(ctx, w.native, account, amount); err != nil {
		return fmt.Errorf("wrap: %w", err)
	}
	return w.ledger.Mint(ctx, w.wrapped, account, amount)
}
