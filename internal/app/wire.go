package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/versebet/exchange/internal/blob/s3"
	"github.com/versebet/exchange/internal/cache/redis"
	"github.com/versebet/exchange/internal/config"
	"github.com/versebet/exchange/internal/domain"
	"github.com/versebet/exchange/internal/engine"
	"github.com/versebet/exchange/internal/server/handler"
	"github.com/versebet/exchange/internal/service"
	"github.com/versebet/exchange/internal/store/postgres"
)

// Dependencies bundles everything the daemon needs to operate. It is
// constructed by Wire and torn down by the returned cleanup function.
// Optional backends (Postgres, Redis, S3) stay nil when disabled; the
// engine and API degrade gracefully to in-memory operation.
type Dependencies struct {
	Engine  *engine.Engine
	Service *service.TradingService

	OrderStore domain.OrderStore
	TradeStore domain.TradeStore

	BookCache   domain.BookCache
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	BlobWriter domain.BlobWriter
	Archiver   *s3blob.Archiver

	HealthDeps map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		HealthDeps: make(map[string]handler.Pinger),
	}

	// --- Matching engine ---
	engCfg, err := cfg.BuildEngineConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("wire: engine config: %w", err)
	}
	eng, err := engine.New(engCfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: engine: %w", err)
	}
	deps.Engine = eng

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
		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.HealthDeps["postgres"] = pgPinger{pgClient}
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

		deps.BookCache = redis.NewBookCache(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.HealthDeps["redis"] = redisClient
	}

	// --- S3 archival ---
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

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.HealthDeps["s3"] = s3Pinger{s3Client}
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.TradeStore, deps.OrderStore, logger)
		if cfg.Maintenance.ArchiveInterval.Duration > 0 {
			deps.Archiver.Interval = cfg.Maintenance.ArchiveInterval.Duration
		}
		if cfg.Maintenance.ArchiveMaxAge.Duration > 0 {
			deps.Archiver.MaxAge = cfg.Maintenance.ArchiveMaxAge.Duration
		}
	}

	// --- Trading service ---
	deps.Service = service.NewTradingService(
		eng, deps.OrderStore, deps.TradeStore, deps.BookCache, deps.SignalBus, logger,
	)

	return deps, cleanup, nil
}

// pgPinger adapts the Postgres client to the health check interface.
type pgPinger struct {
	client *postgres.Client
}

func (p pgPinger) Ping(ctx context.Context) error {
	return p.client.Pool().Ping(ctx)
}

// s3Pinger adapts the S3 client's bucket health check to the health check
// interface.
type s3Pinger struct {
	client *s3blob.Client
}

func (p s3Pinger) Ping(ctx context.Context) error {
	return p.client.Health(ctx)
}
