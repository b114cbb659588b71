package domain

import "errors"

var (
	// Detection and sizing failures.
	ErrInvalidVenuePair     = errors.New("invalid venue pair")
	ErrNoProfitableSolution = errors.New("no profitable borrow size")
	ErrVenueLiquidity       = errors.New("insufficient venue liquidity")

	// Settlement failures.
	ErrArbitrageUnprofitable = errors.New("arbitrage unprofitable")
	ErrBalanceNotIncreased   = errors.New("balance not increased")
	ErrUnauthorizedCallback  = errors.New("unauthorized flash callback")

	// Infrastructure.
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrAttemptInFlight = errors.New("attempt already in flight")
	ErrLockHeld        = errors.New("lock already held")
	ErrContextDone     = errors.New("context cancelled")
)
