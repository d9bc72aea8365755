package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/barwars/ledgerd/internal/resolver"
	"github.com/barwars/ledgerd/internal/server"
	"github.com/barwars/ledgerd/internal/server/handler"
	"github.com/barwars/ledgerd/internal/server/ws"
	"github.com/barwars/ledgerd/internal/service"
)

// archiveInterval is how often the archive loop sweeps old settlements.
const archiveInterval = time.Hour

// ServeMode runs the HTTP API and WebSocket hub.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	return g.Wait()
}

// ResolveMode runs the settlement scheduler: per-market loops that close
// rounds at their boundaries, fetch candles, and settle.
func (a *App) ResolveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting resolve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startScheduler(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode periodically sweeps settlements past the retention window
// into blob storage.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	retention := time.Duration(a.cfg.S3.RetentionDays) * 24 * time.Hour
	ticker := time.NewTicker(archiveInterval)
	defer ticker.Stop()

	for {
		cutoff := time.Now().UTC().Add(-retention)
		count, err := deps.Archiver.ArchiveSettlements(ctx, cutoff)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive sweep failed",
				slog.String("error", err.Error()),
			)
		} else if count > 0 {
			a.logger.InfoContext(ctx, "archive sweep complete",
				slog.Int64("count", count),
				slog.Time("cutoff", cutoff),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// FullMode runs the API server and the settlement scheduler in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	a.startScheduler(ctx, g, deps)
	g.Go(func() error {
		return a.ArchiveMode(ctx, deps)
	})
	return g.Wait()
}

// startServer registers the HTTP server and WebSocket hub on the group.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "http server disabled")
		return
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	pingers := map[string]handler.Pinger{"postgres": deps.Postgres}
	if deps.Redis != nil {
		pingers["redis"] = deps.Redis
	}

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(pingers, a.logger),
		Markets:  handler.NewMarketHandler(deps.Service, a.logger),
		Bets:     handler.NewBetHandler(deps.Service, a.logger),
		Accounts: handler.NewAccountHandler(deps.Service, a.logger),
		Admin:    handler.NewAdminHandler(deps.Service, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		AdminAPIKey: a.cfg.Server.AdminAPIKey,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startScheduler registers the settlement scheduler on the group.
func (a *App) startScheduler(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	candles := resolver.NewCandleResolver(resolver.Config{
		KlinesURL:      a.cfg.Resolver.KlinesURL,
		QuoteAsset:     a.cfg.Resolver.QuoteAsset,
		Interval:       a.cfg.Resolver.Interval,
		RequestTimeout: a.cfg.Resolver.RequestTimeout.Duration,
	})

	sched := service.NewScheduler(deps.Service, candles, deps.LockManager, service.SchedulerConfig{
		Owner:         deps.Ledger.Owner(),
		RetryInterval: a.cfg.Resolver.RetryInterval.Duration,
		LockTTL:       a.cfg.Resolver.LockTTL.Duration,
	}, a.logger)

	g.Go(func() error {
		return sched.Run(ctx)
	})
}
