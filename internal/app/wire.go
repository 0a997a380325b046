package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/steamtradebot/internal/blob/s3"
	"github.com/alanyoungcy/steamtradebot/internal/cache/redis"
	"github.com/alanyoungcy/steamtradebot/internal/config"
	"github.com/alanyoungcy/steamtradebot/internal/domain"
	"github.com/alanyoungcy/steamtradebot/internal/metrics"
	"github.com/alanyoungcy/steamtradebot/internal/notify"
	"github.com/alanyoungcy/steamtradebot/internal/platform/steam"
	"github.com/alanyoungcy/steamtradebot/internal/ratelimit"
	"github.com/alanyoungcy/steamtradebot/internal/server/handler"
	"github.com/alanyoungcy/steamtradebot/internal/store/postgres"
)

// Dependencies bundles the concrete implementations the modes run on.
// Redis-backed fields are nil when Redis is disabled; Archiver is nil when S3
// is disabled.
type Dependencies struct {
	// Stores
	Items   domain.MarketItemStore
	History domain.SellHistoryStore
	Books   domain.OrderBookStore
	Results domain.AnalyzeResultStore
	Runs    domain.ImportRunStore

	// Redis
	Cache       domain.ResultCache
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// RateLimiter is Redis-backed when available, in-process otherwise.
	RateLimiter domain.RateLimiter

	Archiver domain.DumpArchiver
	Steam    *steam.Client
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	// Checks feed the health endpoint.
	Checks map[string]handler.Check
}

// Wire builds every dependency from cfg and returns a cleanup function that
// releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Checks:  make(map[string]handler.Check),
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:             cfg.Postgres.DSN,
		Host:            cfg.Postgres.Host,
		Port:            cfg.Postgres.Port,
		Database:        cfg.Postgres.Database,
		User:            cfg.Postgres.User,
		Password:        cfg.Postgres.Password,
		SSLMode:         cfg.Postgres.SSLMode,
		MaxConns:        cfg.Postgres.PoolMaxConns,
		MinConns:        cfg.Postgres.PoolMinConns,
		MaxConnLifetime: cfg.Postgres.MaxConnLifetime.Duration,
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
	deps.Items = postgres.NewMarketItemStore(pool)
	deps.History = postgres.NewSellHistoryStore(pool)
	deps.Books = postgres.NewOrderBookStore(pool)
	deps.Results = postgres.NewAnalyzeResultStore(pool)
	deps.Runs = postgres.NewImportRunStore(pool)
	deps.Checks["postgres"] = pgClient.Ping

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

		deps.Cache = redis.NewResultCache(redisClient, cfg.Redis.ResultTTL.Duration)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, int64(cfg.Redis.StreamMaxLen))
		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Steam.RequestsPerMinute, time.Minute)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		logger.WarnContext(ctx, "redis disabled: rate limiting is per process, no lease, cache or live stream")
		deps.RateLimiter = ratelimit.NewLocal(cfg.Steam.RequestsPerMinute, time.Minute)
	}

	// --- S3 dump archive ---
	if cfg.S3.Enabled {
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
		deps.Archiver = s3blob.NewDumpArchiver(s3blob.NewWriter(s3Client), cfg.S3.Prefix)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Steam ---
	deps.Steam = steam.New(steam.Config{
		BaseURL:   cfg.Steam.BaseURL,
		Timeout:   cfg.Steam.Timeout.Duration,
		Cookie:    cfg.Steam.Cookie,
		UserAgent: cfg.Steam.UserAgent,
		Country:   cfg.Steam.Country,
		Language:  cfg.Steam.Language,
	}).WithRateLimiter(deps.RateLimiter)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPIURL,
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
