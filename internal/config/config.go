// Package config defines the top-level configuration for the poolbet ledger
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POOLBET_* environment variables.
type Config struct {
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Payout   PayoutConfig   `toml:"payout"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// StoreConfig selects the ledger store backend: memory, postgres or sqlite.
type StoreConfig struct {
	Backend string `toml:"backend"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	PoolMaxConns   int      `toml:"pool_max_conns"`
	PoolMinConns   int      `toml:"pool_min_conns"`
	ConnectTimeout duration `toml:"connect_timeout"`
	RunMigrations  bool     `toml:"run_migrations"`
}

// SQLiteConfig holds the embedded database location.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters. Redis is optional; when
// disabled there is no market cache, event bus, distributed lock or rate
// limiter.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	CacheTTL   duration `toml:"cache_ttl"`
	StreamMax  int64    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// LedgerConfig holds the betting rules.
type LedgerConfig struct {
	// MinBet is the smallest accepted stake in base units.
	MinBet int64 `toml:"min_bet"`
	// ProtocolFee is the fraction of winnings retained, e.g. "0.025".
	ProtocolFee     string   `toml:"protocol_fee"`
	DurationUnit    duration `toml:"duration_unit"`
	MaxOptions      int      `toml:"max_options"`
	MaxTitleLen     int      `toml:"max_title_len"`
	MaxOptionLen    int      `toml:"max_option_len"`
	DistributedLock bool     `toml:"distributed_lock"`
}

// FeeBps converts ProtocolFee to basis points. The fee must lie in [0, 1)
// with at most four decimal places.
func (l LedgerConfig) FeeBps() (uint64, error) {
	s := strings.TrimSpace(l.ProtocolFee)
	if s == "" {
		return 0, nil
	}
	fee, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("ledger: protocol_fee %q: %w", s, err)
	}
	if fee.IsNegative() || fee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return 0, fmt.Errorf("ledger: protocol_fee %s must be in [0, 1)", fee)
	}
	bps := fee.Shift(4)
	if !bps.Equal(bps.Truncate(0)) {
		return 0, fmt.Errorf("ledger: protocol_fee %s has more than 4 decimal places", fee)
	}
	return uint64(bps.IntPart()), nil
}

// PayoutConfig selects how claimed payouts leave custody.
type PayoutConfig struct {
	// Transferrer is "log" (record only) or "voucher" (signed voucher on a
	// Redis stream).
	Transferrer       string   `toml:"transferrer"`
	OperatorKey       string   `toml:"operator_key"`
	EncryptedKeyPath  string   `toml:"encrypted_key_path"`
	KeyPassword       string   `toml:"key_password"`
	ChainID           int64    `toml:"chain_id"`
	VoucherStream     string   `toml:"voucher_stream"`
	ReconcileInterval duration `toml:"reconcile_interval"`
	ReconcileMinAge   duration `toml:"reconcile_min_age"`
	ReconcileBatch    int      `toml:"reconcile_batch"`
}

// ArchiveConfig controls the export of settled markets to object storage.
type ArchiveConfig struct {
	Enabled bool `toml:"enabled"`
	// Cron is a standard 5-field expression, e.g. "0 3 * * *".
	Cron string `toml:"cron"`
	// MinAge is how long after settlement a market becomes eligible.
	MinAge duration `toml:"min_age"`
	Prefix string   `toml:"prefix"`
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is the number of requests per RateWindow allowed per client.
	// Zero disables rate limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Store: StoreConfig{
			Backend: "memory",
		},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "poolbet",
			User:           "postgres",
			SSLMode:        "disable",
			PoolMaxConns:   10,
			PoolMinConns:   2,
			ConnectTimeout: duration{10 * time.Second},
			RunMigrations:  true,
		},
		SQLite: SQLiteConfig{
			Path: "poolbet.db",
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			CacheTTL:   duration{time.Minute},
			StreamMax:  100_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "poolbet-archive",
			ForcePathStyle: true,
		},
		Ledger: LedgerConfig{
			MinBet:       1_000_000,
			ProtocolFee:  "0",
			DurationUnit: duration{time.Hour},
			MaxOptions:   32,
			MaxTitleLen:  256,
			MaxOptionLen: 64,
		},
		Payout: PayoutConfig{
			Transferrer:       "log",
			ChainID:           1,
			VoucherStream:     "ledger:payout_vouchers",
			ReconcileInterval: duration{30 * time.Second},
			ReconcileMinAge:   duration{time.Minute},
			ReconcileBatch:    100,
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Cron:    "0 3 * * *",
			MinAge:  duration{7 * 24 * time.Hour},
			Prefix:  "archive/markets",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   0,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"market_settled", "payout_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"worker": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	"memory":   true,
	"postgres": true,
	"sqlite":   true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, worker, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Store
	backend := strings.ToLower(c.Store.Backend)
	if !validBackends[backend] {
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: memory, postgres, sqlite)", c.Store.Backend))
	}
	if backend == "postgres" {
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}
	if backend == "memory" && strings.ToLower(c.Mode) == "worker" {
		errs = append(errs, "store: worker mode needs a shared backend (postgres or sqlite)")
	}
	if backend == "sqlite" && c.SQLite.Path == "" {
		errs = append(errs, "sqlite: path must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Ledger
	if c.Ledger.MinBet < 1 {
		errs = append(errs, "ledger: min_bet must be >= 1")
	}
	if _, err := c.Ledger.FeeBps(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Ledger.DurationUnit.Duration <= 0 {
		errs = append(errs, "ledger: duration_unit must be positive")
	}
	if c.Ledger.MaxOptions < 2 {
		errs = append(errs, "ledger: max_options must be >= 2")
	}
	if c.Ledger.DistributedLock && !c.Redis.Enabled {
		errs = append(errs, "ledger: distributed_lock requires redis.enabled")
	}

	// Payout
	switch c.Payout.Transferrer {
	case "log":
	case "voucher":
		if !c.Redis.Enabled {
			errs = append(errs, "payout: voucher transferrer requires redis.enabled")
		}
		if c.Payout.OperatorKey == "" && c.Payout.EncryptedKeyPath == "" {
			errs = append(errs, "payout: either operator_key or encrypted_key_path must be set for the voucher transferrer")
		}
		if c.Payout.EncryptedKeyPath != "" && c.Payout.KeyPassword == "" {
			errs = append(errs, "payout: key_password is required when encrypted_key_path is set")
		}
		if c.Payout.VoucherStream == "" {
			errs = append(errs, "payout: voucher_stream must not be empty")
		}
	default:
		errs = append(errs, fmt.Sprintf("payout: unknown transferrer %q (valid: log, voucher)", c.Payout.Transferrer))
	}
	if c.Payout.ReconcileInterval.Duration <= 0 {
		errs = append(errs, "payout: reconcile_interval must be positive")
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if _, err := cron.ParseStandard(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: invalid cron %q: %v", c.Archive.Cron, err))
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && !c.Redis.Enabled {
			errs = append(errs, "server: rate_limit requires redis.enabled (set rate_limit = 0 to disable)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
