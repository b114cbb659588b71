package redis

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/ubiquity/arbitrage-bot/internal/domain"
)

// SnapshotCache implements domain.SnapshotCache using Redis hashes. The
// latest observation of a venue pair is stored at key
// "snapshot:{pair}:{pool}" with reserves and the oracle price as decimal
// strings and the observation time as Unix nanoseconds. Entries expire
// after the configured TTL so the ops surface never serves a stale view
// as current.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotCache creates a SnapshotCache backed by the given Client.
// A non-positive ttl disables expiry.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{rdb: c.Underlying(), ttl: ttl}
}

func snapshotKey(pair, pool common.Address) string {
	return "snapshot:" + pair.Hex() + ":" + pool.Hex()
}

// SetSnapshot stores the latest observation for the venue pair.
func (sc *SnapshotCache) SetSnapshot(ctx context.Context, snap domain.VenueSnapshot) error {
	if snap.ReserveDollar == nil || snap.ReserveCollateral == nil || snap.PoolPriceUsd == nil {
		return fmt.Errorf("redis: snapshot for %s/%s has nil amounts", snap.Pair, snap.Pool)
	}

	key := snapshotKey(snap.Pair, snap.Pool)
	fields := map[string]interface{}{
		"reserve_dollar":     snap.ReserveDollar.String(),
		"reserve_collateral": snap.ReserveCollateral.String(),
		"pool_price":         snap.PoolPriceUsd.String(),
		"observed_at":        strconv.FormatInt(snap.ObservedAt.UnixNano(), 10),
	}
	if err := sc.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", key, err)
	}
	if sc.ttl > 0 {
		if err := sc.rdb.Expire(ctx, key, sc.ttl).Err(); err != nil {
			return fmt.Errorf("redis: expire snapshot %s: %w", key, err)
		}
	}
	return nil
}

// GetSnapshot retrieves the latest observation for the venue pair. It
// returns domain.ErrNotFound when no snapshot is cached.
func (sc *SnapshotCache) GetSnapshot(ctx context.Context, pair, pool common.Address) (domain.VenueSnapshot, error) {
	key := snapshotKey(pair, pool)
	vals, err := sc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.VenueSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", key, err)
	}
	if len(vals) == 0 {
		return domain.VenueSnapshot{}, domain.ErrNotFound
	}

	snap := domain.VenueSnapshot{Pair: pair, Pool: pool}
	if snap.ReserveDollar, err = bigField(vals, "reserve_dollar"); err != nil {
		return domain.VenueSnapshot{}, fmt.Errorf("redis: snapshot %s: %w", key, err)
	}
	if snap.ReserveCollateral, err = bigField(vals, "reserve_collateral"); err != nil {
		return domain.VenueSnapshot{}, fmt.Errorf("redis: snapshot %s: %w", key, err)
	}
	if snap.PoolPriceUsd, err = bigField(vals, "pool_price"); err != nil {
		return domain.VenueSnapshot{}, fmt.Errorf("redis: snapshot %s: %w", key, err)
	}

	tsStr, ok := vals["observed_at"]
	if !ok {
		return domain.VenueSnapshot{}, fmt.Errorf("redis: snapshot %s: missing observed_at", key)
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.VenueSnapshot{}, fmt.Errorf("redis: snapshot %s: parse observed_at: %w", key, err)
	}
	snap.ObservedAt = time.Unix(0, tsNano).UTC()

	return snap, nil
}

func bigField(vals map[string]string, field string) (*big.Int, error) {
	raw, ok := vals[field]
	if !ok {
		return nil, fmt.Errorf("missing field %s", field)
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("field %s holds %q, not a decimal integer", field, raw)
	}
	return v, nil
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*SnapshotCache)(nil)
