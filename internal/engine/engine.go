// Package engine settles arbitrage attempts between a constant-product
// pair and an oracle-priced mint facility. One attempt sizes the
// borrow, executes both legs inside an atomic ledger scope, and either
// finishes with a strictly increased collateral balance or aborts with
// every balance untouched.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/ubiquity/arbitrage-bot/internal/domain"
	"github.com/ubiquity/arbitrage-bot/internal/pricing"
	"github.com/ubiquity/arbitrage-bot/internal/solver"
	"github.com/ubiquity/arbitrage-bot/internal/univ2"
)

// Engine orchestrates settlement attempts. At most one attempt is in
// flight at a time; the attempt mutex spans sizing through settlement
// so the callback slot can never see a stale attempt.
type Engine struct {
	ledger        domain.AtomicLedger
	unwrapper     domain.NativeWrapper
	self          common.Address
	wrappedNative common.Address
	logger        *slog.Logger

	mu       sync.Mutex // serializes attempts end to end
	slotMu   sync.Mutex
	inflight *attempt
}

var _ domain.FlashRecipient = (*Engine)(nil)

// New builds an engine settling for the self account. unwrapper may be
// nil when the collateral is never the wrapped native token.
func New(led domain.AtomicLedger, unwrapper domain.NativeWrapper, self, wrappedNative common.Address, logger *slog.Logger) *Engine {
	return &Engine{
		ledger:        led,
		unwrapper:     unwrapper,
		self:          self,
		wrappedNative: wrappedNative,
		logger:        logger.With(slog.String("component", "engine")),
	}
}

// Attempt runs one full arbitrage attempt against the given venue pair.
// The returned settlement is non-nil for every sized attempt, aborted
// ones included, so callers can persist the failure trail. A second
// call while one attempt is in flight fails immediately.
func (e *Engine) Attempt(ctx context.Context, pair domain.AmmVenue, facility domain.MintVenue, collateralIndex uint) (*domain.Settlement, error) {
	if pair == nil || facility == nil {
		return nil, fmt.Errorf("engine: both venues required: %w", domain.ErrInvalidVenuePair)
	}
	if !e.mu.TryLock() {
		return nil, domain.ErrAttemptInFlight
	}
	defer e.mu.Unlock()

	a := &attempt{
		pair:            pair,
		facility:        facility,
		collateralIndex: collateralIndex,
		settlement: &domain.Settlement{
			ID:        uuid.NewString(),
			Pair:      pair.Address(),
			Pool:      facility.Address(),
			State:     domain.AttemptIdle,
			StartedAt: time.Now().UTC(),
		},
	}

	err := e.settle(ctx, a)
	a.settlement.FinishedAt = time.Now().UTC()
	if err != nil {
		a.abort(err)
		e.logger.WarnContext(ctx, "attempt aborted",
			slog.String("settlement_id", a.settlement.ID),
			slog.String("direction", string(a.settlement.Direction)),
			slog.String("error", err.Error()),
		)
		return a.settlement, err
	}

	e.logger.InfoContext(ctx, "attempt settled",
		slog.String("settlement_id", a.settlement.ID),
		slog.String("direction", string(a.settlement.Direction)),
		slog.String("borrow", a.settlement.BorrowAmount.String()),
		slog.String("debt", a.settlement.DebtAmount.String()),
		slog.String("proceeds", a.settlement.ProceedsOut.String()),
		slog.String("profit", a.settlement.Profit.String()),
	)
	return a.settlement, nil
}

func (e *Engine) settle(ctx context.Context, a *attempt) error {
	if err := e.size(ctx, a); err != nil {
		return err
	}

	pre, err := e.ledger.BalanceOf(ctx, a.info.CollateralToken, e.self)
	if err != nil {
		return fmt.Errorf("engine: read pre-attempt balance: %w", err)
	}
	a.preBalance = pre

	return e.ledger.Atomic(ctx, func(ctx context.Context) error {
		var legErr error
		switch a.info.Direction {
		case domain.DirectionFlashFromPair:
			legErr = e.flashLeg(ctx, a)
		case domain.DirectionMintAndSell:
			legErr = e.mintLeg(ctx, a)
		default:
			legErr = fmt.Errorf("engine: unknown direction %q", a.info.Direction)
		}
		if legErr != nil {
			return legErr
		}

		post, err := e.ledger.BalanceOf(ctx, a.info.CollateralToken, e.self)
		if err != nil {
			return fmt.Errorf("engine: read post-attempt balance: %w", err)
		}
		if post.Cmp(a.preBalance) <= 0 {
			return fmt.Errorf("engine: collateral balance %s -> %s: %w", a.preBalance, post, domain.ErrBalanceNotIncreased)
		}
		a.settlement.Profit = new(big.Int).Sub(post, a.preBalance)
		a.settlement.ProfitToken = a.info.CollateralToken

		if e.unwrapper != nil && e.wrappedNative != (common.Address{}) && a.info.CollateralToken == e.wrappedNative {
			if err := e.unwrapper.Unwrap(ctx, e.self, post); err != nil {
				return fmt.Errorf("engine: unwrap winnings: %w", err)
			}
		}
		return a.advance(domain.AttemptSettled)
	})
}

// size resolves the venue pair, ranks the two quotes, and solves for
// the borrow. No balances move here.
func (e *Engine) size(ctx context.Context, a *attempt) error {
	if a.settlement.Pair == a.settlement.Pool {
		return fmt.Errorf("engine: venues share address %s: %w", a.settlement.Pair, domain.ErrInvalidVenuePair)
	}

	dollar, err := a.facility.DollarToken(ctx)
	if err != nil {
		return fmt.Errorf("engine: resolve dollar token: %w", err)
	}
	collateral, err := a.facility.CollateralToken(ctx, a.collateralIndex)
	if err != nil {
		return fmt.Errorf("engine: resolve collateral token: %w", err)
	}
	token0, err := a.pair.Token0(ctx)
	if err != nil {
		return fmt.Errorf("engine: resolve token0: %w", err)
	}
	token1, err := a.pair.Token1(ctx)
	if err != nil {
		return fmt.Errorf("engine: resolve token1: %w", err)
	}

	var dollarIsToken0 bool
	switch {
	case token0 == dollar && token1 == collateral:
		dollarIsToken0 = true
	case token0 == collateral && token1 == dollar:
		dollarIsToken0 = false
	default:
		return fmt.Errorf("engine: pair %s does not trade %s against %s: %w",
			a.settlement.Pair, dollar, collateral, domain.ErrInvalidVenuePair)
	}

	reserve0, reserve1, err := a.pair.Reserves(ctx)
	if err != nil {
		return fmt.Errorf("engine: read reserves: %w", err)
	}
	reserveDollar, reserveCollateral := reserve0, reserve1
	if !dollarIsToken0 {
		reserveDollar, reserveCollateral = reserve1, reserve0
	}

	price, err := a.facility.SpotPriceUsd(ctx)
	if err != nil {
		return fmt.Errorf("engine: read spot price: %w", err)
	}

	direction, ordered, err := pricing.Compare(reserveDollar, reserveCollateral, price)
	if err != nil {
		return err
	}
	a.settlement.Direction = direction

	borrow, err := solver.BorrowAmount(ordered)
	if err != nil {
		return err
	}

	a.info = domain.ArbitrageInfo{
		Pair:            a.settlement.Pair,
		Pool:            a.settlement.Pool,
		DollarToken:     dollar,
		CollateralToken: collateral,
		DollarIsToken0:  dollarIsToken0,
		Direction:       direction,
	}
	a.reserveDollar = reserveDollar
	a.reserveCollateral = reserveCollateral
	a.borrow = borrow
	a.settlement.BorrowAmount = borrow
	return a.advance(domain.AttemptSized)
}

// flashLeg borrows the sized dollars from the pair. The pair suspends
// control into OnFlashSwap, where the counter-trade and repayment
// happen; by the time Swap returns the pair has already enforced its
// invariant against the repaid debt.
func (e *Engine) flashLeg(ctx context.Context, a *attempt) error {
	debt, err := univ2.AmountIn(a.borrow, a.reserveCollateral, a.reserveDollar)
	if err != nil {
		return err
	}
	expectedOut, err := a.facility.QuoteRedeem(ctx, a.collateralIndex, a.borrow)
	if err != nil {
		return fmt.Errorf("engine: quote redeem: %w", err)
	}
	a.debt = debt
	a.settlement.DebtAmount = debt

	payload, err := domain.CallbackData{
		DebtVenue:      a.info.Pair,
		TargetVenue:    a.info.Pool,
		DollarIsToken0: a.info.DollarIsToken0,
		BorrowedToken:  a.info.DollarToken,
		DebtToken:      a.info.CollateralToken,
		DebtAmount:     debt,
		ExpectedOut:    expectedOut,
	}.Encode()
	if err != nil {
		return err
	}

	amount0Out, amount1Out := splitAmounts(a.borrow, a.info.DollarIsToken0)

	e.arm(a)
	defer e.disarm()

	if err := a.pair.Swap(ctx, e.self, amount0Out, amount1Out, e, payload); err != nil {
		return err
	}
	if !a.callbackDone {
		return fmt.Errorf("engine: flash swap returned without running the callback")
	}
	return nil
}

// mintLeg mints the sized dollars against collateral, then sells them
// into the pair. The mint is synchronous, so the debt is settled the
// moment it exists and no callback leg runs.
func (e *Engine) mintLeg(ctx context.Context, a *attempt) error {
	cost, err := a.facility.QuoteMint(ctx, a.collateralIndex, a.borrow)
	if err != nil {
		return fmt.Errorf("engine: quote mint: %w", err)
	}

	minted, collateralUsed, _, err := a.facility.MintDollar(
		ctx, e.self, a.collateralIndex,
		a.borrow, a.borrow, cost, new(big.Int), true,
	)
	if err != nil {
		return fmt.Errorf("engine: mint dollars: %w", err)
	}
	a.debt = collateralUsed
	a.settlement.DebtAmount = collateralUsed
	if err := a.advance(domain.AttemptBorrowed); err != nil {
		return err
	}

	proceeds, err := univ2.AmountOut(a.borrow, a.reserveDollar, a.reserveCollateral)
	if err != nil {
		return err
	}

	if err := e.ledger.Transfer(ctx, a.info.DollarToken, e.self, a.info.Pair, minted); err != nil {
		return fmt.Errorf("engine: pay pair: %w", err)
	}
	amount0Out, amount1Out := splitAmounts(proceeds, !a.info.DollarIsToken0)
	if err := a.pair.Swap(ctx, e.self, amount0Out, amount1Out, e, nil); err != nil {
		return err
	}
	a.settlement.ProceedsOut = proceeds
	if err := a.advance(domain.AttemptCounterTraded); err != nil {
		return err
	}

	if proceeds.Cmp(a.debt) <= 0 {
		return fmt.Errorf("engine: proceeds %s against debt %s: %w", proceeds, a.debt, domain.ErrArbitrageUnprofitable)
	}
	return a.advance(domain.AttemptRepaid)
}

func (e *Engine) arm(a *attempt) {
	e.slotMu.Lock()
	a.permitted = a.info.Pair
	e.inflight = a
	e.slotMu.Unlock()
}

func (e *Engine) disarm() {
	e.slotMu.Lock()
	e.inflight = nil
	e.slotMu.Unlock()
}

func splitAmounts(amount *big.Int, onToken0 bool) (*big.Int, *big.Int) {
	if onToken0 {
		return amount, new(big.Int)
	}
	return new(big.Int), amount
}
