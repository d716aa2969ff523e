// Package app assembles the exchange daemon from its configured components
// and manages its lifecycle.
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/versebet/exchange/internal/config"
	"github.com/versebet/exchange/internal/server"
	"github.com/versebet/exchange/internal/server/handler"
	"github.com/versebet/exchange/internal/server/ws"
	"github.com/versebet/exchange/internal/service"
)

const shutdownTimeout = 15 * time.Second

// App is the running exchange daemon: the matching engine, its event pump,
// the HTTP/WebSocket API, and the background maintenance loops.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	deps    *Dependencies
	cleanup func()
}

// New wires all dependencies and returns an App ready to Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	deps, cleanup, err := Wire(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &App{
		cfg:     cfg,
		logger:  logger,
		deps:    deps,
		cleanup: cleanup,
	}, nil
}

// Run starts every component and blocks until the context is cancelled or a
// component fails. On cancellation the HTTP server drains in-flight requests
// before Run returns.
func (a *App) Run(ctx context.Context) error {
	deps := a.deps

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.HealthDeps),
		Orders: handler.NewOrderHandler(deps.Service, a.logger),
		Books:  handler.NewBookHandler(deps.Service, a.logger),
		Trades: handler.NewTradeHandler(deps.Service, a.logger),
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		AccountKeys:     a.cfg.Server.AccountKeys,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	maint := service.NewMaintenance(deps.Engine, deps.Service, a.logger)
	if d := a.cfg.Maintenance.ExpirySweepInterval.Duration; d > 0 {
		maint.SweepInterval = d
	}
	if d := a.cfg.Maintenance.RetentionInterval.Duration; d > 0 {
		maint.RetentionInterval = d
	}
	if d := a.cfg.Maintenance.RetentionMaxAge.Duration; d > 0 {
		maint.RetentionMaxAge = d
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCancel(deps.Service.Run(gctx))
	})
	if hub != nil {
		g.Go(func() error {
			return ignoreCancel(hub.Run(gctx))
		})
	}
	g.Go(func() error {
		return ignoreCancel(maint.RunExpirySweep(gctx))
	})
	g.Go(func() error {
		return ignoreCancel(maint.RunRetention(gctx))
	})
	if deps.Archiver != nil {
		g.Go(func() error {
			return ignoreCancel(deps.Archiver.Run(gctx))
		})
	}

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	a.logger.Info("app: running",
		slog.Int("port", a.cfg.Server.Port),
		slog.Bool("postgres", a.cfg.Postgres.Enabled),
		slog.Bool("redis", a.cfg.Redis.Enabled),
		slog.Bool("s3", a.cfg.S3.Enabled),
	)

	return g.Wait()
}

// Close releases all wired resources.
func (a *App) Close() {
	if a.cleanup != nil {
		a.cleanup()
	}
}

// ignoreCancel maps context cancellation to a nil error so that an orderly
// shutdown does not surface as a failure from the run group.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
