package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/poolbet/internal/blob/s3"
	"github.com/alanyoungcy/poolbet/internal/cache/redis"
	"github.com/alanyoungcy/poolbet/internal/config"
	"github.com/alanyoungcy/poolbet/internal/crypto"
	"github.com/alanyoungcy/poolbet/internal/domain"
	"github.com/alanyoungcy/poolbet/internal/notify"
	"github.com/alanyoungcy/poolbet/internal/server/handler"
	"github.com/alanyoungcy/poolbet/internal/store/memory"
	"github.com/alanyoungcy/poolbet/internal/store/postgres"
	"github.com/alanyoungcy/poolbet/internal/store/sqlite"
	"github.com/alanyoungcy/poolbet/internal/transfer"
)

// Dependencies holds the infrastructure the ledger runs on. Store and
// Transferrer are always set; everything else is nil when not configured.
type Dependencies struct {
	Store       domain.LedgerStore
	Audit       *postgres.AuditStore
	Cache       domain.MarketCache
	Locks       domain.LockManager
	Bus         domain.SignalBus
	Limiter     domain.RateLimiter
	Archiver    domain.Archiver
	Notifier    *notify.Notifier
	Transferrer domain.PayoutTransferrer
	// Health lists the external dependencies probed by /api/health.
	Health map[string]handler.Pinger
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Wire connects the configured backends. The returned cleanup closes them in
// reverse order and must be called even when Wire fails part way.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Health: make(map[string]handler.Pinger)}

	// --- Ledger store ---
	switch strings.ToLower(cfg.Store.Backend) {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Postgres.DSN,
			Host:           cfg.Postgres.Host,
			Port:           cfg.Postgres.Port,
			Database:       cfg.Postgres.Database,
			User:           cfg.Postgres.User,
			Password:       cfg.Postgres.Password,
			SSLMode:        cfg.Postgres.SSLMode,
			MaxConns:       cfg.Postgres.PoolMaxConns,
			MinConns:       cfg.Postgres.PoolMinConns,
			ConnectTimeout: cfg.Postgres.ConnectTimeout.Duration,
		})
		if err != nil {
			return nil, cleanup, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return nil, cleanup, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Store = pgClient.Ledger()
		deps.Audit = pgClient.Audit()
		deps.Health["postgres"] = pgClient

	case "sqlite":
		store, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, cleanup, fmt.Errorf("wire: sqlite: %w", err)
		}
		closers = append(closers, func() { _ = store.Close() })
		deps.Store = store
		deps.Health["sqlite"] = store

	default:
		deps.Store = memory.New()
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
			return nil, cleanup, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Cache = redis.NewMarketCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.Bus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMax)
		deps.Limiter = redis.NewRateLimiter(redisClient)
		if cfg.Ledger.DistributedLock {
			deps.Locks = redis.NewLockManager(redisClient)
		}
		deps.Health["redis"] = redisClient
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled {
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
			return nil, cleanup, fmt.Errorf("wire: s3: %w", err)
		}
		var audit domain.AuditStore
		if deps.Audit != nil {
			audit = deps.Audit
		}
		deps.Archiver = s3blob.NewArchiver(
			deps.Store,
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			audit,
			cfg.Archive.Prefix,
			logger,
		)
		deps.Health["s3"] = pingFunc(s3Client.Health)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Payout transfer ---
	transferrer, err := wireTransferrer(cfg, deps.Bus, logger)
	if err != nil {
		return nil, cleanup, err
	}
	deps.Transferrer = transferrer

	return deps, cleanup, nil
}

func wireTransferrer(cfg *config.Config, bus domain.SignalBus, logger *slog.Logger) (domain.PayoutTransferrer, error) {
	if cfg.Payout.Transferrer != "voucher" {
		return transfer.NewLogTransferrer(logger), nil
	}
	if bus == nil {
		return nil, fmt.Errorf("wire: voucher transferrer: redis is not enabled")
	}
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Payout.OperatorKey,
		EncryptedKeyPath: cfg.Payout.EncryptedKeyPath,
		KeyPassword:      cfg.Payout.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: operator key: %w", err)
	}
	signer, err := crypto.NewSigner(key, cfg.Payout.ChainID)
	if err != nil {
		return nil, fmt.Errorf("wire: voucher signer: %w", err)
	}
	logger.Info("voucher signer ready",
		slog.String("address", signer.Address().Hex()),
		slog.Int64("chain_id", cfg.Payout.ChainID),
	)
	return transfer.NewVoucherTransferrer(signer, signer.Address().Hex(), bus, cfg.Payout.VoucherStream, logger), nil
}
