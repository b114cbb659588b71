package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/ubiquity/arbitrage-bot/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	db dbconn
}

// NewOpportunityStore creates a new OpportunityStore backed by the given
// connection pool.
func NewOpportunityStore(db dbconn) *OpportunityStore {
	return &OpportunityStore{db: db}
}

var _ domain.OpportunityStore = (*OpportunityStore)(nil)

// NUMERIC and UUID columns come back as text so the scan targets stay
// plain strings; amounts are re-parsed into big.Int.
const opportunityCols = `id::text, pair_address, pool_address, direction,
	dollar_token, collateral_token,
	pair_reserve_dollar::text, pair_reserve_collateral::text,
	pair_price_usd::text, pool_price_usd::text,
	borrow_amount::text, debt_amount::text, expected_out::text, expected_profit::text,
	profitable, detected_at, executed, executed_at`

// Insert stores a newly detected opportunity.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.Opportunity) error {
	const query = `
		INSERT INTO opportunities (
			id, pair_address, pool_address, direction,
			dollar_token, collateral_token,
			pair_reserve_dollar, pair_reserve_collateral,
			pair_price_usd, pool_price_usd,
			borrow_amount, debt_amount, expected_out, expected_profit,
			profitable, detected_at, executed, executed_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6,
			$7, $8,
			$9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18
		)`

	_, err := s.db.Exec(ctx, query,
		opp.ID, opp.Pair.Hex(), opp.Pool.Hex(), string(opp.Direction),
		opp.DollarToken.Hex(), opp.CollateralToken.Hex(),
		numeric(opp.PairReserveDollar), numeric(opp.PairReserveCollateral),
		numeric(opp.PairPriceUsd), numeric(opp.PoolPriceUsd),
		numeric(opp.BorrowAmount), numeric(opp.DebtAmount),
		numeric(opp.ExpectedOut), numeric(opp.ExpectedProfit),
		opp.Profitable, opp.DetectedAt, opp.Executed, opp.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// MarkExecuted flags an opportunity as consumed and links the settlement
// that replayed it.
func (s *OpportunityStore) MarkExecuted(ctx context.Context, id, settlementID string) error {
	const query = `
		UPDATE opportunities SET
			executed      = TRUE,
			executed_at   = NOW(),
			settlement_id = $2
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, id, nullable(settlementID))
	if err != nil {
		return fmt.Errorf("postgres: mark opportunity executed %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRecent returns the most recent opportunities ordered by detection time.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	query := `SELECT ` + opportunityCols + ` FROM opportunities ORDER BY detected_at DESC`
	args := []any{}

	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities: %w", err)
	}
	return scanOpportunities(rows)
}

// ListBefore returns opportunities detected strictly before the cutoff, in
// detection order. The archiver drains old rows through this.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error) {
	query := `SELECT ` + opportunityCols + ` FROM opportunities WHERE detected_at < $1 ORDER BY detected_at ASC`

	rows, err := s.db.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before %s: %w", before.Format(time.RFC3339), err)
	}
	return scanOpportunities(rows)
}

func scanOpportunities(rows pgx.Rows) ([]domain.Opportunity, error) {
	defer rows.Close()

	var opps []domain.Opportunity
	for rows.Next() {
		var opp domain.Opportunity
		var pair, pool, direction, dollar, collateral string
		var reserveDollar, reserveCollateral, pairPrice, poolPrice *string
		var borrow, debt, expectedOut, expectedProfit *string

		if err := rows.Scan(
			&opp.ID, &pair, &pool, &direction,
			&dollar, &collateral,
			&reserveDollar, &reserveCollateral,
			&pairPrice, &poolPrice,
			&borrow, &debt, &expectedOut, &expectedProfit,
			&opp.Profitable, &opp.DetectedAt, &opp.Executed, &opp.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}

		opp.Pair = common.HexToAddress(pair)
		opp.Pool = common.HexToAddress(pool)
		opp.Direction = domain.Direction(direction)
		opp.DollarToken = common.HexToAddress(dollar)
		opp.CollateralToken = common.HexToAddress(collateral)

		fields := []struct {
			dst **big.Int
			src *string
		}{
			{&opp.PairReserveDollar, reserveDollar},
			{&opp.PairReserveCollateral, reserveCollateral},
			{&opp.PairPriceUsd, pairPrice},
			{&opp.PoolPriceUsd, poolPrice},
			{&opp.BorrowAmount, borrow},
			{&opp.DebtAmount, debt},
			{&opp.ExpectedOut, expectedOut},
			{&opp.ExpectedProfit, expectedProfit},
		}
		for _, f := range fields {
			v, err := parseNumeric(f.src)
			if err != nil {
				return nil, fmt.Errorf("postgres: scan opportunity %s: %w", opp.ID, err)
			}
			*f.dst = v
		}

		opps = append(opps, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate opportunities: %w", err)
	}
	return opps, nil
}
