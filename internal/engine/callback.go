package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ubiquity/arbitrage-bot/internal/domain"
)

// Address is the engine's own settlement account.
func (e *Engine) Address() common.Address { return e.self }

// OnFlashSwap is the re-entrant leg of a flash borrow. Only the venue
// armed by the in-flight attempt may enter, and only for a swap the
// engine itself initiated; everything else is rejected before any
// balance moves. On success the borrowed dollars have been redeemed
// and the collateral debt left on the pair, so the pair's invariant
// check passes when this returns.
func (e *Engine) OnFlashSwap(ctx context.Context, venue, initiator common.Address, amount0Out, amount1Out *big.Int, data []byte) error {
	e.slotMu.Lock()
	a := e.inflight
	e.slotMu.Unlock()

	if a == nil || venue != a.permitted {
		return fmt.Errorf("engine: callback from %s with no armed venue: %w", venue, domain.ErrUnauthorizedCallback)
	}
	if initiator != e.self {
		return fmt.Errorf("engine: callback initiated by %s: %w", initiator, domain.ErrUnauthorizedCallback)
	}
	payload, err := domain.DecodeCallbackData(data)
	if err != nil {
		return fmt.Errorf("engine: callback payload rejected: %s: %w", err, domain.ErrUnauthorizedCallback)
	}
	if payload.DebtVenue != venue {
		return fmt.Errorf("engine: payload names debt venue %s, caller is %s: %w", payload.DebtVenue, venue, domain.ErrUnauthorizedCallback)
	}

	borrowed := amount1Out
	if payload.DollarIsToken0 {
		borrowed = amount0Out
	}
	if borrowed == nil || borrowed.Sign() <= 0 {
		return fmt.Errorf("engine: callback carries no borrowed amount: %w", domain.ErrUnauthorizedCallback)
	}

	if err := a.advance(domain.AttemptBorrowed); err != nil {
		return err
	}

	_, collateralOut, err := a.facility.RedeemDollar(ctx, e.self, a.collateralIndex, borrowed, nil, nil)
	if err != nil {
		return fmt.Errorf("engine: redeem borrowed dollars: %w", err)
	}
	a.settlement.ProceedsOut = collateralOut
	if err := a.advance(domain.AttemptCounterTraded); err != nil {
		return err
	}

	if collateralOut.Cmp(payload.DebtAmount) <= 0 {
		return fmt.Errorf("engine: proceeds %s against debt %s: %w", collateralOut, payload.DebtAmount, domain.ErrArbitrageUnprofitable)
	}

	if err := e.ledger.Transfer(ctx, payload.DebtToken, e.self, venue, payload.DebtAmount); err != nil {
		return fmt.Errorf("engine: repay debt: %w", err)
	}
	if err := a.advance(domain.AttemptRepaid); err != nil {
		return err
	}

	a.callbackDone = true
	return nil
}
