package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// dbconn is the slice of pgxpool.Pool the stores depend on. Tests
// substitute a pgxmock pool.
type dbconn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// numeric renders a big.Int for a NUMERIC parameter, NULL when nil.
// Postgres coerces the decimal text form on the way in, so 256-bit
// amounts survive the round trip exactly.
func numeric(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

// parseNumeric converts a NUMERIC column read back as text into a
// big.Int; NULL stays nil.
func parseNumeric(s *string) (*big.Int, error) {
	if s == nil {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return nil, fmt.Errorf("numeric column holds %q", *s)
	}
	return v, nil
}

// nullable renders an optional text parameter, NULL when empty.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
