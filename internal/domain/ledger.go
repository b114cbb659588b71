package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger is the token balance book the venues settle against. Transfer
// follows safe-transfer discipline: a transfer that cannot be honored in
// full is an error, never a partial move.
type Ledger interface {
	BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error)
	Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error
}

// AtomicLedger adds transactional scope. Atomic runs fn against the
// ledger and rolls every balance mutation back if fn returns an error,
// which is what makes an aborted settlement leave no trace.
type AtomicLedger interface {
	Ledger
	Atomic(ctx context.Context, fn func(context.Context) error) error
}

// NativeWrapper converts wrapped native token balance back to native.
type NativeWrapper interface {
	Unwrap(ctx context.Context, account common.Address, amount *big.Int) error
}
