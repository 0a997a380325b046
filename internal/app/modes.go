package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/steamtradebot/internal/analyzer"
	"github.com/alanyoungcy/steamtradebot/internal/domain"
	"github.com/alanyoungcy/steamtradebot/internal/importer"
	"github.com/alanyoungcy/steamtradebot/internal/pipeline"
	"github.com/alanyoungcy/steamtradebot/internal/server"
	"github.com/alanyoungcy/steamtradebot/internal/server/handler"
	"github.com/alanyoungcy/steamtradebot/internal/server/ws"
)

// OnceMode imports every tracked item once and returns. It fails when any
// import failed.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	batch, err := a.newScheduler(deps, a.newImporter(deps)).RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("app: once: %w", err)
	}
	if batch.Run.Failed > 0 {
		return fmt.Errorf("app: once: %d of %d imports failed", batch.Run.Failed, batch.Run.Total)
	}
	return nil
}

// DaemonMode runs the scheduler loop.
func (a *App) DaemonMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting daemon mode")
	return a.newScheduler(deps, a.newImporter(deps)).Run(ctx)
}

// ServerMode serves the HTTP API; imports only run on request.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, a.newImporter(deps), nil)
	return g.Wait()
}

// FullMode runs the scheduler and the HTTP API together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)

	imp := a.newImporter(deps)
	sched := a.newScheduler(deps, imp)
	g.Go(func() error {
		return sched.Run(ctx)
	})
	a.startHTTPServer(ctx, g, deps, imp, sched)

	return g.Wait()
}

func (a *App) newImporter(deps *Dependencies) *importer.Importer {
	an := analyzer.New(analyzer.Config{
		MinDailySales: a.cfg.Analyzer.MinDailySales,
		MinDeviation:  a.cfg.Analyzer.MinDeviation,
		MaxDeviation:  a.cfg.Analyzer.MaxDeviation,
		ReferenceSize: a.cfg.Analyzer.ReferenceSize,
	})

	imp := importer.New(deps.Steam, deps.History, deps.Results, an,
		a.logger.With(slog.String("component", "importer"))).
		WithItems(deps.Items).
		WithOrderBooks(deps.Books).
		WithMetrics(deps.Metrics).
		WithWorkers(a.cfg.Importer.Workers)
	if deps.LockManager != nil {
		imp = imp.WithLease(deps.LockManager, a.cfg.Redis.LeaseTTL.Duration)
	}
	if deps.Cache != nil {
		imp = imp.WithCache(deps.Cache)
	}
	if deps.SignalBus != nil {
		imp = imp.WithSignalBus(deps.SignalBus)
	}
	if deps.Archiver != nil {
		imp = imp.WithArchiver(deps.Archiver)
	}
	return imp
}

func (a *App) newScheduler(deps *Dependencies, imp *importer.Importer) *pipeline.Scheduler {
	currencies := make([]domain.Currency, 0, len(a.cfg.Importer.Currencies))
	for _, c := range a.cfg.Importer.Currencies {
		currencies = append(currencies, domain.Currency(c))
	}
	return pipeline.NewScheduler(imp, deps.Items, currencies, a.cfg.Importer.Interval.Duration, a.logger).
		WithRunStore(deps.Runs).
		WithResults(deps.Results).
		WithNotifier(deps.Notifier).
		WithMetrics(deps.Metrics)
}

// startHTTPServer adds the API server, and the WebSocket hub when a signal
// bus exists, to g. trigger may be nil.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, imp *importer.Importer, trigger handler.BatchTrigger) {
	logger := a.logger.With(slog.String("component", "http"))

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checks, logger),
		Status:  handler.NewStatusHandler(a.cfg.Mode, time.Now().UTC(), deps.Runs, logger),
		Results: handler.NewResultHandler(deps.Results, logger),
		Metrics: deps.Metrics.Handler(),
	}
	if deps.Cache != nil {
		handlers.Results = handlers.Results.WithCache(deps.Cache)
	}
	handlers.Import = handler.NewImportHandler(imp, trigger, logger)
	if deps.SignalBus != nil {
		hub := ws.NewHub(deps.SignalBus, a.cfg.Mode, logger)
		handlers.Hub = hub
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, deps.RateLimiter, logger)

	g.Go(func() error {
		return srv.Run(ctx)
	})
}
