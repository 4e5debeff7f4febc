package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POOLBET_* environment variable overrides, and
// returns the final Config. An empty path or a missing file leaves the
// defaults in place. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POOLBET_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty).
func applyEnvOverrides(cfg *Config) {
	// ── Store ──
	setStr(&cfg.Store.Backend, "POOLBET_STORE_BACKEND")
	setStr(&cfg.SQLite.Path, "POOLBET_SQLITE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POOLBET_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POOLBET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POOLBET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POOLBET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POOLBET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POOLBET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POOLBET_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POOLBET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POOLBET_POSTGRES_POOL_MIN_CONNS")
	setDuration(&cfg.Postgres.ConnectTimeout, "POOLBET_POSTGRES_CONNECT_TIMEOUT")
	setBool(&cfg.Postgres.RunMigrations, "POOLBET_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POOLBET_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POOLBET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POOLBET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POOLBET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POOLBET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POOLBET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POOLBET_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.CacheTTL, "POOLBET_REDIS_CACHE_TTL")
	setInt64(&cfg.Redis.StreamMax, "POOLBET_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POOLBET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POOLBET_S3_REGION")
	setStr(&cfg.S3.Bucket, "POOLBET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POOLBET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POOLBET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POOLBET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POOLBET_S3_FORCE_PATH_STYLE")

	// ── Ledger ──
	setInt64(&cfg.Ledger.MinBet, "POOLBET_LEDGER_MIN_BET")
	setStr(&cfg.Ledger.ProtocolFee, "POOLBET_LEDGER_PROTOCOL_FEE")
	setDuration(&cfg.Ledger.DurationUnit, "POOLBET_LEDGER_DURATION_UNIT")
	setInt(&cfg.Ledger.MaxOptions, "POOLBET_LEDGER_MAX_OPTIONS")
	setInt(&cfg.Ledger.MaxTitleLen, "POOLBET_LEDGER_MAX_TITLE_LEN")
	setInt(&cfg.Ledger.MaxOptionLen, "POOLBET_LEDGER_MAX_OPTION_LEN")
	setBool(&cfg.Ledger.DistributedLock, "POOLBET_LEDGER_DISTRIBUTED_LOCK")

	// ── Payout ──
	setStr(&cfg.Payout.Transferrer, "POOLBET_PAYOUT_TRANSFERRER")
	setStr(&cfg.Payout.OperatorKey, "POOLBET_PAYOUT_OPERATOR_KEY")
	setStr(&cfg.Payout.EncryptedKeyPath, "POOLBET_PAYOUT_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Payout.KeyPassword, "POOLBET_PAYOUT_KEY_PASSWORD")
	setInt64(&cfg.Payout.ChainID, "POOLBET_PAYOUT_CHAIN_ID")
	setStr(&cfg.Payout.VoucherStream, "POOLBET_PAYOUT_VOUCHER_STREAM")
	setDuration(&cfg.Payout.ReconcileInterval, "POOLBET_PAYOUT_RECONCILE_INTERVAL")
	setDuration(&cfg.Payout.ReconcileMinAge, "POOLBET_PAYOUT_RECONCILE_MIN_AGE")
	setInt(&cfg.Payout.ReconcileBatch, "POOLBET_PAYOUT_RECONCILE_BATCH")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "POOLBET_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "POOLBET_ARCHIVE_CRON")
	setDuration(&cfg.Archive.MinAge, "POOLBET_ARCHIVE_MIN_AGE")
	setStr(&cfg.Archive.Prefix, "POOLBET_ARCHIVE_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POOLBET_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POOLBET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POOLBET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "POOLBET_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "POOLBET_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "POOLBET_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POOLBET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POOLBET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POOLBET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POOLBET_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POOLBET_MODE")
	setStr(&cfg.LogLevel, "POOLBET_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
