// Package config defines the top-level configuration for the arbitrage
// bot and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBBOT_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Venues   VenuesConfig   `toml:"venues"`
	Engine   EngineConfig   `toml:"engine"`
	Sim      SimConfig      `toml:"sim"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Wallet   WalletConfig   `toml:"wallet"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig holds the EVM endpoint the venue readers run against.
type ChainConfig struct {
	RpcURL  string `toml:"rpc_url"`
	ChainID int64  `toml:"chain_id"`
}

// VenuesConfig names the two venues under watch: the constant-product
// pair and the oracle-priced mint facility, plus the dollar token they
// share. CollateralIndex selects the facility collateral slot.
type VenuesConfig struct {
	PairAddress     string `toml:"pair_address"`
	PoolAddress     string `toml:"pool_address"`
	DollarToken     string `toml:"dollar_token"`
	CollateralIndex uint   `toml:"collateral_index"`
}

// EngineConfig holds scan-loop and settlement parameters. MinProfit is
// a decimal integer in collateral base units; opportunities below it
// are recorded but neither notified nor paper-executed.
type EngineConfig struct {
	ScanInterval duration `toml:"scan_interval"`
	MinProfit    string   `toml:"min_profit"`
	LockTTL      duration `toml:"lock_ttl"`
	SnapshotTTL  duration `toml:"snapshot_ttl"`
}

// SimConfig seeds the paper-settlement substrate. Reserves and the
// oracle price come from the live snapshot; the fees and the bot's
// starting collateral balance come from here.
type SimConfig struct {
	MintFeeBps         int64  `toml:"mint_fee_bps"`
	RedeemFeeBps       int64  `toml:"redeem_fee_bps"`
	StartingCollateral string `toml:"starting_collateral"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters. The archiver
// ships records older than ArchiveAfter to the bucket every
// ArchiveInterval.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	ArchiveInterval duration `toml:"archive_interval"`
	ArchiveAfter    duration `toml:"archive_after"`
}

// ServerConfig holds HTTP server parameters. An empty APIKey leaves
// the API open; set it to require Bearer or X-API-Key auth. A zero
// RateLimitRPS disables per-client rate limiting.
type ServerConfig struct {
	Enabled        bool     `toml:"enabled"`
	Port           int      `toml:"port"`
	APIKey         string   `toml:"api_key"`
	CORSOrigins    []string `toml:"cors_origins"`
	RateLimitRPS   float64  `toml:"rate_limit_rps"`
	RateLimitBurst int      `toml:"rate_limit_burst"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// WalletConfig holds the engine identity key. The address derived from
// it is the initiator the flash callback authenticates against and the
// ledger account paper settlements run as.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RpcURL:  "http://localhost:8545",
			ChainID: 1,
		},
		Venues: VenuesConfig{
			CollateralIndex: 0,
		},
		Engine: EngineConfig{
			ScanInterval: duration{15 * time.Second},
			MinProfit:    "0",
			LockTTL:      duration{30 * time.Second},
			SnapshotTTL:  duration{5 * time.Minute},
		},
		Sim: SimConfig{
			MintFeeBps:         0,
			RedeemFeeBps:       0,
			StartingCollateral: "1000000000000000000000",
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "arbbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:         false,
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "arbbot-data",
			UseSSL:          false,
			ForcePathStyle:  true,
			ArchiveInterval: duration{24 * time.Hour},
			ArchiveAfter:    duration{720 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:        true,
			Port:           8000,
			CORSOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
		Notify: NotifyConfig{
			Events: []string{"opportunity", "settlement", "error"},
		},
		Mode:     "watch",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"watch": true,
	"paper": true,
	"serve": true,
	"full":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsVenues reports whether the configured mode reads live venues.
func (c *Config) NeedsVenues() bool {
	m := strings.ToLower(c.Mode)
	return m == "watch" || m == "paper" || m == "full"
}

// NeedsWallet reports whether the configured mode settles attempts and
// therefore needs an engine identity key.
func (c *Config) NeedsWallet() bool {
	m := strings.ToLower(c.Mode)
	return m == "paper" || m == "full"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: watch, paper, serve, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain + venues — required whenever the bot scans live venues.
	if c.NeedsVenues() {
		if c.Chain.RpcURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty for mode "+c.Mode)
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, fmt.Sprintf("chain: chain_id must be positive, got %d", c.Chain.ChainID))
		}
		if !common.IsHexAddress(c.Venues.PairAddress) {
			errs = append(errs, fmt.Sprintf("venues: pair_address %q is not a hex address", c.Venues.PairAddress))
		}
		if !common.IsHexAddress(c.Venues.PoolAddress) {
			errs = append(errs, fmt.Sprintf("venues: pool_address %q is not a hex address", c.Venues.PoolAddress))
		}
		if !common.IsHexAddress(c.Venues.DollarToken) {
			errs = append(errs, fmt.Sprintf("venues: dollar_token %q is not a hex address", c.Venues.DollarToken))
		}
		if common.IsHexAddress(c.Venues.PairAddress) && common.IsHexAddress(c.Venues.PoolAddress) &&
			common.HexToAddress(c.Venues.PairAddress) == common.HexToAddress(c.Venues.PoolAddress) {
			errs = append(errs, "venues: pair_address and pool_address must differ")
		}
	}

	// Engine
	if c.Engine.ScanInterval.Duration <= 0 {
		errs = append(errs, "engine: scan_interval must be > 0")
	}
	if c.Engine.LockTTL.Duration <= 0 {
		errs = append(errs, "engine: lock_ttl must be > 0")
	}
	if c.Engine.MinProfit != "" {
		if v, ok := new(big.Int).SetString(c.Engine.MinProfit, 10); !ok || v.Sign() < 0 {
			errs = append(errs, fmt.Sprintf("engine: min_profit %q must be a non-negative decimal integer", c.Engine.MinProfit))
		}
	}

	// Sim — only exercised by paper settlements, validated unconditionally
	// so a broken section fails fast rather than on the first lock win.
	if c.Sim.MintFeeBps < 0 || c.Sim.MintFeeBps > 10_000 {
		errs = append(errs, fmt.Sprintf("sim: mint_fee_bps must be 0-10000, got %d", c.Sim.MintFeeBps))
	}
	if c.Sim.RedeemFeeBps < 0 || c.Sim.RedeemFeeBps > 10_000 {
		errs = append(errs, fmt.Sprintf("sim: redeem_fee_bps must be 0-10000, got %d", c.Sim.RedeemFeeBps))
	}
	if v, ok := new(big.Int).SetString(c.Sim.StartingCollateral, 10); !ok || v.Sign() <= 0 {
		errs = append(errs, fmt.Sprintf("sim: starting_collateral %q must be a positive decimal integer", c.Sim.StartingCollateral))
	}

	// Wallet — required for modes that settle.
	if c.NeedsWallet() {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "s3: archive_interval must be > 0 when enabled")
		}
		if c.S3.ArchiveAfter.Duration <= 0 {
			errs = append(errs, "s3: archive_after must be > 0 when enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitRPS < 0 {
			errs = append(errs, fmt.Sprintf("server: rate_limit_rps must be >= 0, got %g", c.Server.RateLimitRPS))
		}
		if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
			errs = append(errs, "server: rate_limit_burst must be >= 1 when rate limiting is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
