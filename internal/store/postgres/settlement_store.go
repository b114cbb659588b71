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

// SettlementStore implements domain.SettlementStore using PostgreSQL.
// Aborted attempts are rows like any other; FailReason carries the abort
// cause and State records how far the attempt got.
type SettlementStore struct {
	db dbconn
}

// NewSettlementStore creates a new SettlementStore backed by the given
// connection pool.
func NewSettlementStore(db dbconn) *SettlementStore {
	return &SettlementStore{db: db}
}

var _ domain.SettlementStore = (*SettlementStore)(nil)

const settlementCols = `id::text, opportunity_id::text, pair_address, pool_address,
	direction, state,
	borrow_amount::text, debt_amount::text, proceeds_out::text, profit::text,
	profit_token, fail_reason, started_at, finished_at`

// Insert stores one settlement attempt.
func (s *SettlementStore) Insert(ctx context.Context, st domain.Settlement) error {
	const query = `
		INSERT INTO settlements (
			id, opportunity_id, pair_address, pool_address,
			direction, state,
			borrow_amount, debt_amount, proceeds_out, profit,
			profit_token, fail_reason, started_at, finished_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14
		)`

	_, err := s.db.Exec(ctx, query,
		st.ID, nullable(st.OpportunityID), st.Pair.Hex(), st.Pool.Hex(),
		string(st.Direction), string(st.State),
		numeric(st.BorrowAmount), numeric(st.DebtAmount),
		numeric(st.ProceedsOut), numeric(st.Profit),
		st.ProfitToken.Hex(), st.FailReason, st.StartedAt, st.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert settlement %s: %w", st.ID, err)
	}
	return nil
}

// ListRecent returns the most recent settlements ordered by start time.
func (s *SettlementStore) ListRecent(ctx context.Context, limit int) ([]domain.Settlement, error) {
	query := `SELECT ` + settlementCols + ` FROM settlements ORDER BY started_at DESC`
	args := []any{}

	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent settlements: %w", err)
	}
	return scanSettlements(rows)
}

// ListBefore returns settlements started strictly before the cutoff, oldest
// first.
func (s *SettlementStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Settlement, error) {
	query := `SELECT ` + settlementCols + ` FROM settlements WHERE started_at < $1 ORDER BY started_at ASC`

	rows, err := s.db.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements before %s: %w", before.Format(time.RFC3339), err)
	}
	return scanSettlements(rows)
}

func scanSettlements(rows pgx.Rows) ([]domain.Settlement, error) {
	defer rows.Close()

	var sts []domain.Settlement
	for rows.Next() {
		var st domain.Settlement
		var opportunityID *string
		var pair, pool, direction, state, profitToken string
		var borrow, debt, proceeds, profit *string

		if err := rows.Scan(
			&st.ID, &opportunityID, &pair, &pool,
			&direction, &state,
			&borrow, &debt, &proceeds, &profit,
			&profitToken, &st.FailReason, &st.StartedAt, &st.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan settlement: %w", err)
		}

		if opportunityID != nil {
			st.OpportunityID = *opportunityID
		}
		st.Pair = common.HexToAddress(pair)
		st.Pool = common.HexToAddress(pool)
		st.Direction = domain.Direction(direction)
		st.State = domain.AttemptState(state)
		st.ProfitToken = common.HexToAddress(profitToken)

		fields := []struct {
			dst **big.Int
			src *string
		}{
			{&st.BorrowAmount, borrow},
			{&st.DebtAmount, debt},
			{&st.ProceedsOut, proceeds},
			{&st.Profit, profit},
		}
		for _, f := range fields {
			v, err := parseNumeric(f.src)
			if err != nil {
				return nil, fmt.Errorf("postgres: scan settlement %s: %w", st.ID, err)
			}
			*f.dst = v
		}

		sts = append(sts, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate settlements: %w", err)
	}
	return sts, nil
}
