package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	s3blob "github.com/ubiquity/arbitrage-bot/internal/blob/s3"
	"github.com/ubiquity/arbitrage-bot/internal/cache/redis"
	"github.com/ubiquity/arbitrage-bot/internal/config"
	"github.com/ubiquity/arbitrage-bot/internal/crypto"
	"github.com/ubiquity/arbitrage-bot/internal/domain"
	"github.com/ubiquity/arbitrage-bot/internal/metrics"
	"github.com/ubiquity/arbitrage-bot/internal/notify"
	"github.com/ubiquity/arbitrage-bot/internal/platform/evm"
	"github.com/ubiquity/arbitrage-bot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Venue quoters. Nil in serve mode, which never reads the chain.
	Amm  domain.AmmQuoter
	Mint domain.MintQuoter

	// Stores. Nil when Postgres is disabled.
	Opportunities domain.OpportunityStore
	Settlements   domain.SettlementStore

	// Caches and cross-replica coordination. Nil when Redis is disabled.
	Snapshots domain.SnapshotCache
	Locks     domain.LockManager
	Bus       domain.SignalBus

	// Blob storage. Nil unless S3 is enabled in an archiving mode.
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Notifications.
	Notifier *notify.Notifier

	// Identity is the engine address paper settlements run as. Zero
	// unless the mode settles.
	Identity common.Address

	// Metrics instruments and the registry the scrape endpoint gathers.
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
}

// needsS3 returns true for modes that ship archives to object storage.
func needsS3(mode string) bool {
	return strings.ToLower(mode) == "full"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Metrics (private registry; the ops server gathers it) ---
	deps.Registry = prometheus.NewRegistry()
	deps.Metrics = metrics.New(deps.Registry)

	// --- Venue readers (only for modes that scan the chain) ---
	if cfg.NeedsVenues() {
		evmClient, err := evm.NewClient(ctx, evm.ClientConfig{
			RpcURL:  cfg.Chain.RpcURL,
			ChainID: cfg.Chain.ChainID,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: evm: %w", err)
		}
		closers = append(closers, evmClient.Close)

		pair, err := evm.NewPairReader(evmClient.Underlying(), common.HexToAddress(cfg.Venues.PairAddress))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: pair reader: %w", err)
		}
		pool, err := evm.NewPoolReader(evmClient.Underlying(), evm.PoolReaderConfig{
			Address:      common.HexToAddress(cfg.Venues.PoolAddress),
			DollarToken:  common.HexToAddress(cfg.Venues.DollarToken),
			MintFeeBps:   cfg.Sim.MintFeeBps,
			RedeemFeeBps: cfg.Sim.RedeemFeeBps,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: pool reader: %w", err)
		}
		deps.Amm = pair
		deps.Mint = pool
	}

	// --- Engine identity (only for modes that settle) ---
	if cfg.NeedsWallet() {
		id, err := crypto.NewIdentity(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: identity: %w", err)
		}
		deps.Identity = id.Address()
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Opportunities = postgres.NewOpportunityStore(pool)
		deps.Settlements = postgres.NewSettlementStore(pool)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Snapshots = redis.NewSnapshotCache(redisClient, cfg.Engine.SnapshotTTL.Duration)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
	}

	// --- S3 blob storage (archival; full mode only) ---
	if cfg.S3.Enabled && needsS3(cfg.Mode) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		// Archiver: only when Postgres holds records to ship.
		if deps.Opportunities != nil && deps.Settlements != nil {
			deps.Archiver = s3blob.NewArchiver(
				deps.BlobWriter,
				deps.Opportunities,
				deps.Settlements,
				logger,
			)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
