package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/dexbot/internal/blob/s3"
	"github.com/alanyoungcy/dexbot/internal/cache/redis"
	"github.com/alanyoungcy/dexbot/internal/config"
	"github.com/alanyoungcy/dexbot/internal/domain"
	"github.com/alanyoungcy/dexbot/internal/notify"
	"github.com/alanyoungcy/dexbot/internal/server/handler"
	"github.com/alanyoungcy/dexbot/internal/store/postgres"
)

// Dependencies bundles the infrastructure every mode builds on. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	TradeStore     *postgres.TradeRecordStore
	SessionStore   domain.SessionStore
	ConfigStore    domain.ConfigStore
	BlacklistStore domain.BlacklistStore
	AuditStore     domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage; nil unless archiving is enabled in full mode.
	BlobStore domain.BlobStore
	Archiver  domain.Archiver

	Notifier *notify.Notifier

	// Checks are the dependency probes served on /api/health.
	Checks map[string]handler.Check
}

// needsArchive reports whether mode runs the S3 archiver.
func needsArchive(cfg *config.Config) bool {
	return cfg.Mode == "full" && cfg.Archive.Enabled
}

// Wire constructs all concrete infrastructure from cfg and returns it
// together with a cleanup function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- PostgreSQL ---
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
	deps.TradeStore = postgres.NewTradeRecordStore(pool)
	deps.SessionStore = postgres.NewSessionStore(pool)
	deps.ConfigStore = postgres.NewConfigStore(pool)
	deps.BlacklistStore = postgres.NewBlacklistStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.Checks["postgres"] = pgClient.Health

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		Namespace:  cfg.Redis.Namespace,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	// Quotes older than the validity window are useless to the gate.
	deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Risk.ValidityWindow.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.Checks["redis"] = redisClient.Ping

	// --- S3 blob storage ---
	if needsArchive(cfg) {
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
		deps.BlobStore = s3blob.NewStore(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobStore, deps.TradeStore, deps.AuditStore, logger)
		deps.Checks["s3"] = s3Client.Health
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

	return deps, cleanup, nil
}
