package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// VenueSnapshot is one observation of both venues, cached for the ops
// surface and for seeding paper settlements.
type VenueSnapshot struct {
	Pair              common.Address
	Pool              common.Address
	ReserveDollar     *big.Int
	ReserveCollateral *big.Int
	PoolPriceUsd      *big.Int
	ObservedAt        time.Time
}

// SnapshotCache stores the latest venue snapshot per venue pair.
type SnapshotCache interface {
	SetSnapshot(ctx context.Context, snap VenueSnapshot) error
	GetSnapshot(ctx context.Context, pair, pool common.Address) (VenueSnapshot, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out of bot events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Channels published on the signal bus.
const (
	ChannelOpportunity = "arb.opportunity"
	ChannelSettlement  = "arb.settlement"
)
