// Package service drives the arbitrage loop: scan the live venues for a
// price divergence, size and project the trade without executing, record
// what was found, and optionally replay the opportunity as a paper
// settlement on freshly seeded venue simulations.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/ubiquity/arbitrage-bot/internal/domain"
	"github.com/ubiquity/arbitrage-bot/internal/engine"
	"github.com/ubiquity/arbitrage-bot/internal/ledger"
	"github.com/ubiquity/arbitrage-bot/internal/metrics"
	"github.com/ubiquity/arbitrage-bot/internal/notify"
	"github.com/ubiquity/arbitrage-bot/internal/pricing"
	"github.com/ubiquity/arbitrage-bot/internal/solver"
	"github.com/ubiquity/arbitrage-bot/internal/univ2"
	"github.com/ubiquity/arbitrage-bot/internal/venue/ubiquity"
	"github.com/ubiquity/arbitrage-bot/internal/venue/uniswap"
)

// Config holds the tunable parameters of the arbitrage loop.
type Config struct {
	// CollateralIndex selects the facility collateral the loop trades.
	CollateralIndex uint
	ScanInterval    time.Duration
	// MinProfit is the projected-profit floor, in raw collateral units,
	// below which an opportunity is recorded but neither alerted nor
	// executed.
	MinProfit *big.Int
	// LockTTL bounds how long a replica may hold the paper-execution lock.
	LockTTL time.Duration
	// PaperExecution replays profitable opportunities on seeded venue
	// simulations.
	PaperExecution bool
	// Identity is the ledger account the paper engine settles for.
	Identity common.Address
	// StartingCollateral is the paper bankroll minted to the identity
	// before each attempt.
	StartingCollateral *big.Int
	// Fee schedule of the simulated facility.
	MintFeeBps   int64
	RedeemFeeBps int64
}

// Deps are the collaborators of the service. Amm, Mint, Metrics and
// Logger are required; the rest may be nil, in which case the matching
// side effect is skipped.
type Deps struct {
	Amm  domain.AmmQuoter
	Mint domain.MintQuoter

	Opportunities domain.OpportunityStore
	Settlements   domain.SettlementStore
	Snapshots     domain.SnapshotCache
	Locks         domain.LockManager
	Bus           domain.SignalBus
	Notifier      *notify.Notifier

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Status is a point-in-time view of the loop for the ops surface.
type Status struct {
	LastScanAt      time.Time
	LastSnapshot    domain.VenueSnapshot
	LastOpportunity string
	LastError       string
	Scans           uint64
	Opportunities   uint64
	Attempts        uint64
}

// ArbService evaluates and records arbitrage opportunities between one
// constant-product pair and one mint/redeem facility.
type ArbService struct {
	amm  domain.AmmQuoter
	mint domain.MintQuoter

	opportunities domain.OpportunityStore
	settlements   domain.SettlementStore
	snapshots     domain.SnapshotCache
	locks         domain.LockManager
	bus           domain.SignalBus
	notifier      *notify.Notifier

	metrics *metrics.Metrics
	cfg     Config
	logger  *slog.Logger

	statusMu sync.Mutex
	status   Status
}

// NewArbService creates an ArbService. Optional dependencies left nil in
// deps disable the matching side effect instead of failing.
func NewArbService(deps Deps, cfg Config) (*ArbService, error) {
	switch {
	case deps.Amm == nil:
		return nil, errors.New("service: amm quoter required")
	case deps.Mint == nil:
		return nil, errors.New("service: mint quoter required")
	case deps.Metrics == nil:
		return nil, errors.New("service: metrics required")
	case deps.Logger == nil:
		return nil, errors.New("service: logger required")
	}
	if cfg.MinProfit == nil {
		cfg.MinProfit = new(big.Int)
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 15 * time.Second
	}

	return &ArbService{
		amm:           deps.Amm,
		mint:          deps.Mint,
		opportunities: deps.Opportunities,
		settlements:   deps.Settlements,
		snapshots:     deps.Snapshots,
		locks:         deps.Locks,
		bus:           deps.Bus,
		notifier:      deps.Notifier,
		metrics:       deps.Metrics,
		cfg:           cfg,
		logger:        deps.Logger.With(slog.String("component", "arb_service")),
	}, nil
}

// Status reports the current loop counters and the last observed venue
// state.
func (s *ArbService) Status() Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status
}

// Watch scans on a fixed interval until the context is cancelled. With
// paper execution enabled, profitable opportunities are replayed as
// simulated settlements inline.
func (s *ArbService) Watch(ctx context.Context) error {
	s.logger.InfoContext(ctx, "watch loop started",
		slog.Duration("interval", s.cfg.ScanInterval),
		slog.Bool("paper_execution", s.cfg.PaperExecution),
	)

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// tick runs one scan and, in paper mode, one execution. Failures are
// logged and alerted, never fatal to the loop.
func (s *ArbService) tick(ctx context.Context) {
	opp, snap, err := s.ScanOnce(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		s.logger.ErrorContext(ctx, "scan failed", slog.String("error", err.Error()))
		s.alert(ctx, notify.EventError, "Scan failed", err.Error())
		return
	}
	if opp == nil || !opp.Profitable || !s.cfg.PaperExecution {
		return
	}

	if _, err := s.ExecutePaper(ctx, *opp, snap); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		s.logger.ErrorContext(ctx, "paper execution failed",
			slog.String("opportunity_id", opp.ID),
			slog.String("error", err.Error()),
		)
		s.alert(ctx, notify.EventError, "Paper execution failed", err.Error())
	}
}

// ScanOnce reads both venues, sizes the divergence and projects its
// economics without moving a balance. A nil opportunity with a nil error
// means the venues are aligned. Every detected divergence is recorded,
// the profitable ones are alerted.
func (s *ArbService) ScanOnce(ctx context.Context) (*domain.Opportunity, domain.VenueSnapshot, error) {
	start := time.Now()

	snap, dollar, collateral, err := s.observe(ctx)
	if err != nil {
		s.scanFailed(err)
		return nil, domain.VenueSnapshot{}, err
	}

	if s.snapshots != nil {
		if err := s.snapshots.SetSnapshot(ctx, snap); err != nil {
			s.logger.WarnContext(ctx, "cache snapshot failed", slog.String("error", err.Error()))
		}
	}

	direction, ordered, err := pricing.Compare(snap.ReserveDollar, snap.ReserveCollateral, snap.PoolPriceUsd)
	if err != nil {
		err = fmt.Errorf("service: compare venues: %w", err)
		s.scanFailed(err)
		return nil, snap, err
	}

	borrow, err := solver.BorrowAmount(ordered)
	if errors.Is(err, domain.ErrNoProfitableSolution) {
		s.finishScan(start, snap, nil)
		s.logger.DebugContext(ctx, "venues aligned",
			slog.String("pool_price_usd", snap.PoolPriceUsd.String()),
		)
		return nil, snap, nil
	}
	if err != nil {
		err = fmt.Errorf("service: size borrow: %w", err)
		s.scanFailed(err)
		return nil, snap, err
	}

	debt, expectedOut, err := s.project(ctx, direction, borrow, snap)
	if err != nil {
		s.scanFailed(err)
		return nil, snap, err
	}

	pairPrice, err := pricing.ImpliedPriceUsd(snap.ReserveDollar, snap.ReserveCollateral)
	if err != nil {
		s.scanFailed(err)
		return nil, snap, err
	}

	profit := new(big.Int).Sub(expectedOut, debt)
	profitable := profit.Sign() > 0 && profit.Cmp(s.cfg.MinProfit) >= 0

	opp := &domain.Opportunity{
		ID:              uuid.NewString(),
		Pair:            snap.Pair,
		Pool:            snap.Pool,
		Direction:       direction,
		DollarToken:     dollar,
		CollateralToken: collateral,

		PairReserveDollar:     snap.ReserveDollar,
		PairReserveCollateral: snap.ReserveCollateral,
		PairPriceUsd:          pairPrice,
		PoolPriceUsd:          snap.PoolPriceUsd,

		BorrowAmount:   borrow,
		DebtAmount:     debt,
		ExpectedOut:    expectedOut,
		ExpectedProfit: profit,
		Profitable:     profitable,
		DetectedAt:     snap.ObservedAt,
	}

	if s.opportunities != nil {
		if err := s.opportunities.Insert(ctx, *opp); err != nil {
			err = fmt.Errorf("service: insert opportunity: %w", err)
			s.scanFailed(err)
			return nil, snap, err
		}
	}

	s.metrics.OpportunityDetected(string(direction), profitable)
	s.finishScan(start, snap, opp)

	s.publish(ctx, domain.ChannelOpportunity, opportunityEvent(opp))
	if profitable {
		title, msg := notify.FormatOpportunity(*opp)
		s.alert(ctx, notify.EventOpportunity, title, msg)
	}

	s.logger.InfoContext(ctx, "opportunity detected",
		slog.String("opportunity_id", opp.ID),
		slog.String("direction", string(direction)),
		slog.String("borrow", borrow.String()),
		slog.String("expected_profit", profit.String()),
		slog.Bool("profitable", profitable),
	)
	return opp, snap, nil
}

// ExecutePaper replays an opportunity as a settlement attempt on venue
// simulations seeded from the snapshot. The Redis lock keeps replicas
// from replaying the same divergence; losing the race returns (nil, nil).
// Attempt failures are recorded as aborted settlements and do not error.
func (s *ArbService) ExecutePaper(ctx context.Context, opp domain.Opportunity, snap domain.VenueSnapshot) (*domain.Settlement, error) {
	if snap.ReserveDollar == nil || snap.ReserveCollateral == nil || snap.PoolPriceUsd == nil {
		return nil, errors.New("service: snapshot missing venue state")
	}

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, paperLockKey(opp.Pair, opp.Pool), s.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.DebugContext(ctx, "paper lock held by another replica",
				slog.String("opportunity_id", opp.ID),
			)
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("service: acquire paper lock: %w", err)
		}
		defer unlock()
	}

	world, err := s.seedWorld(ctx, opp, snap)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	// The simulated facility carries exactly the chosen collateral, so the
	// attempt always runs against sim index 0.
	settlement, attemptErr := world.engine.Attempt(ctx, world.pair, world.pool, 0)
	elapsed := time.Since(start)

	if settlement == nil {
		s.metrics.AttemptFinished(metrics.OutcomeError, elapsed)
		return nil, fmt.Errorf("service: paper attempt: %w", attemptErr)
	}
	settlement.OpportunityID = opp.ID

	outcome := metrics.OutcomeSettled
	if attemptErr != nil {
		outcome = metrics.OutcomeAborted
	}
	s.metrics.AttemptFinished(outcome, elapsed)
	if attemptErr == nil {
		s.metrics.RecordProfit(settlement.Profit)
	}

	s.statusMu.Lock()
	s.status.Attempts++
	s.statusMu.Unlock()

	if s.settlements != nil {
		if err := s.settlements.Insert(ctx, *settlement); err != nil {
			return settlement, fmt.Errorf("service: insert settlement: %w", err)
		}
	}
	if attemptErr == nil && s.opportunities != nil {
		if err := s.opportunities.MarkExecuted(ctx, opp.ID, settlement.ID); err != nil {
			s.logger.WarnContext(ctx, "mark opportunity executed failed",
				slog.String("opportunity_id", opp.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.publish(ctx, domain.ChannelSettlement, settlementEvent(settlement))
	title, msg := notify.FormatSettlement(*settlement)
	s.alert(ctx, notify.EventSettlement, title, msg)

	if attemptErr != nil {
		s.logger.InfoContext(ctx, "paper attempt aborted",
			slog.String("settlement_id", settlement.ID),
			slog.String("opportunity_id", opp.ID),
			slog.String("reason", settlement.FailReason),
		)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return settlement, ctxErr
		}
		return settlement, nil
	}

	s.logger.InfoContext(ctx, "paper attempt settled",
		slog.String("settlement_id", settlement.ID),
		slog.String("opportunity_id", opp.ID),
		slog.String("profit", settlement.Profit.String()),
	)
	return settlement, nil
}

// observe reads both venues and resolves the token layout of the pair.
func (s *ArbService) observe(ctx context.Context) (domain.VenueSnapshot, common.Address, common.Address, error) {
	var zero domain.VenueSnapshot

	dollar, err := s.mint.DollarToken(ctx)
	if err != nil {
		return zero, common.Address{}, common.Address{}, fmt.Errorf("service: resolve dollar token: %w", err)
	}
	collateral, err := s.mint.CollateralToken(ctx, s.cfg.CollateralIndex)
	if err != nil {
		return zero, common.Address{}, common.Address{}, fmt.Errorf("service: resolve collateral token: %w", err)
	}
	token0, err := s.amm.Token0(ctx)
	if err != nil {
		return zero, common.Address{}, common.Address{}, fmt.Errorf("service: resolve token0: %w", err)
	}
	token1, err := s.amm.Token1(ctx)
	if err != nil {
		return zero, common.Address{}, common.Address{}, fmt.Errorf("service: resolve token1: %w", err)
	}

	var dollarIsToken0 bool
	switch {
	case token0 == dollar && token1 == collateral:
		dollarIsToken0 = true
	case token0 == collateral && token1 == dollar:
		dollarIsToken0 = false
	default:
		return zero, common.Address{}, common.Address{}, fmt.Errorf(
			"service: pair %s does not trade %s against %s: %w",
			s.amm.Address(), dollar, collateral, domain.ErrInvalidVenuePair)
	}

	reserve0, reserve1, err := s.amm.Reserves(ctx)
	if err != nil {
		return zero, common.Address{}, common.Address{}, fmt.Errorf("service: read reserves: %w", err)
	}
	reserveDollar, reserveCollateral := reserve0, reserve1
	if !dollarIsToken0 {
		reserveDollar, reserveCollateral = reserve1, reserve0
	}

	price, err := s.mint.SpotPriceUsd(ctx)
	if err != nil {
		return zero, common.Address{}, common.Address{}, fmt.Errorf("service: read spot price: %w", err)
	}

	snap := domain.VenueSnapshot{
		Pair:              s.amm.Address(),
		Pool:              s.mint.Address(),
		ReserveDollar:     reserveDollar,
		ReserveCollateral: reserveCollateral,
		PoolPriceUsd:      price,
		ObservedAt:        time.Now().UTC(),
	}
	return snap, dollar, collateral, nil
}

// project prices both legs of the sized trade the same way the engine
// executes them: the flash direction repays AmountIn and redeems at the
// facility, the mint direction pays the mint quote and sells for
// AmountOut.
func (s *ArbService) project(ctx context.Context, direction domain.Direction, borrow *big.Int, snap domain.VenueSnapshot) (debt, expectedOut *big.Int, err error) {
	switch direction {
	case domain.DirectionFlashFromPair:
		debt, err = univ2.AmountIn(borrow, snap.ReserveCollateral, snap.ReserveDollar)
		if err != nil {
			return nil, nil, fmt.Errorf("service: price flash debt: %w", err)
		}
		expectedOut, err = s.mint.QuoteRedeem(ctx, s.cfg.CollateralIndex, borrow)
		if err != nil {
			return nil, nil, fmt.Errorf("service: quote redeem: %w", err)
		}
	case domain.DirectionMintAndSell:
		debt, err = s.mint.QuoteMint(ctx, s.cfg.CollateralIndex, borrow)
		if err != nil {
			return nil, nil, fmt.Errorf("service: quote mint: %w", err)
		}
		expectedOut, err = univ2.AmountOut(borrow, snap.ReserveDollar, snap.ReserveCollateral)
		if err != nil {
			return nil, nil, fmt.Errorf("service: price counter trade: %w", err)
		}
	default:
		return nil, nil, fmt.Errorf("service: unknown direction %q", direction)
	}
	return debt, expectedOut, nil
}

// paperWorld is one disposable simulation: a fresh ledger, both venues
// seeded from a snapshot, and an engine settling for the identity.
type paperWorld struct {
	pair   *uniswap.Pair
	pool   *ubiquity.Pool
	engine *engine.Engine
}

func (s *ArbService) seedWorld(ctx context.Context, opp domain.Opportunity, snap domain.VenueSnapshot) (*paperWorld, error) {
	led := ledger.New()

	if err := led.Mint(ctx, opp.DollarToken, opp.Pair, snap.ReserveDollar); err != nil {
		return nil, fmt.Errorf("service: seed pair dollars: %w", err)
	}
	if err := led.Mint(ctx, opp.CollateralToken, opp.Pair, snap.ReserveCollateral); err != nil {
		return nil, fmt.Errorf("service: seed pair collateral: %w", err)
	}
	pair := uniswap.NewPair(led, opp.Pair, opp.DollarToken, opp.CollateralToken)
	if err := pair.Sync(ctx); err != nil {
		return nil, fmt.Errorf("service: sync pair sim: %w", err)
	}

	pool, err := ubiquity.NewPool(led, ubiquity.PoolConfig{
		Address:          opp.Pool,
		DollarToken:      opp.DollarToken,
		CollateralTokens: []common.Address{opp.CollateralToken},
		PriceUsd:         snap.PoolPriceUsd,
		MintFeeBps:       s.cfg.MintFeeBps,
		RedeemFeeBps:     s.cfg.RedeemFeeBps,
	})
	if err != nil {
		return nil, fmt.Errorf("service: build pool sim: %w", err)
	}

	// Collateral float sized past the pair's depth so redemptions can
	// always pay out.
	float := new(big.Int).Lsh(snap.ReserveCollateral, 1)
	if opp.ExpectedOut != nil {
		float.Add(float, opp.ExpectedOut)
	}
	if err := led.Mint(ctx, opp.CollateralToken, opp.Pool, float); err != nil {
		return nil, fmt.Errorf("service: seed pool float: %w", err)
	}

	if s.cfg.StartingCollateral != nil && s.cfg.StartingCollateral.Sign() > 0 {
		if err := led.Mint(ctx, opp.CollateralToken, s.cfg.Identity, s.cfg.StartingCollateral); err != nil {
			return nil, fmt.Errorf("service: seed paper bankroll: %w", err)
		}
	}

	eng := engine.New(led, nil, s.cfg.Identity, common.Address{}, s.logger)
	return &paperWorld{pair: pair, pool: pool, engine: eng}, nil
}

func (s *ArbService) finishScan(start time.Time, snap domain.VenueSnapshot, opp *domain.Opportunity) {
	s.metrics.ObserveScan(time.Since(start))

	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.Scans++
	s.status.LastScanAt = time.Now().UTC()
	s.status.LastSnapshot = snap
	s.status.LastError = ""
	if opp != nil {
		s.status.Opportunities++
		s.status.LastOpportunity = opp.ID
	}
}

func (s *ArbService) scanFailed(err error) {
	s.metrics.ScanFailed()

	s.statusMu.Lock()
	s.status.LastError = err.Error()
	s.statusMu.Unlock()
}

func (s *ArbService) alert(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *ArbService) publish(ctx context.Context, channel string, event map[string]any) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.WarnContext(ctx, "encode event failed", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		s.logger.WarnContext(ctx, "publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func paperLockKey(pair, pool common.Address) string {
	return fmt.Sprintf("paper:%s:%s", pair.Hex(), pool.Hex())
}

func opportunityEvent(opp *domain.Opportunity) map[string]any {
	return map[string]any{
		"event":           "opportunity_detected",
		"id":              opp.ID,
		"direction":       string(opp.Direction),
		"pair":            opp.Pair.Hex(),
		"pool":            opp.Pool.Hex(),
		"pair_price_usd":  opp.PairPriceUsd.String(),
		"pool_price_usd":  opp.PoolPriceUsd.String(),
		"borrow":          opp.BorrowAmount.String(),
		"expected_profit": opp.ExpectedProfit.String(),
		"profitable":      opp.Profitable,
	}
}

func settlementEvent(st *domain.Settlement) map[string]any {
	evt := map[string]any{
		"event":          "settlement_recorded",
		"id":             st.ID,
		"opportunity_id": st.OpportunityID,
		"direction":      string(st.Direction),
		"state":          string(st.State),
	}
	if st.BorrowAmount != nil {
		evt["borrow"] = st.BorrowAmount.String()
	}
	if st.DebtAmount != nil {
		evt["debt"] = st.DebtAmount.String()
	}
	if st.Profit != nil {
		evt["profit"] = st.Profit.String()
	}
	if st.FailReason != "" {
		evt["fail_reason"] = st.FailReason
	}
	return evt
}
