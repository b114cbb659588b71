package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ubiquity/arbitrage-bot/internal/domain"
	"github.com/ubiquity/arbitrage-bot/internal/server"
	"github.com/ubiquity/arbitrage-bot/internal/server/handler"
	"github.com/ubiquity/arbitrage-bot/internal/server/ws"
	"github.com/ubiquity/arbitrage-bot/internal/service"
)

// WatchMode runs the scan loop without settlement. Divergences are
// recorded and alerted but never executed.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode")

	svc, err := a.buildArbService(deps, false)
	if err != nil {
		return fmt.Errorf("watch mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Watch(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startOpsServer(ctx, g, deps, svc)
	}

	return g.Wait()
}

// PaperMode runs the scan loop with paper settlement: every profitable
// divergence is replayed on venue simulations seeded from the live
// snapshot, and the outcome is recorded as a settlement.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode",
		slog.String("identity", deps.Identity.Hex()),
	)

	svc, err := a.buildArbService(deps, true)
	if err != nil {
		return fmt.Errorf("paper mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Watch(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startOpsServer(ctx, g, deps, svc)
	}

	return g.Wait()
}

// ServeMode runs only the ops API over whatever persistence is wired.
// It never touches the chain, so the scan and settlement endpoints that
// need a live loop respond 501.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	if !a.cfg.Server.Enabled {
		return errors.New("app: serve mode requires server.enabled")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startOpsServer(ctx, g, deps, nil)
	return g.Wait()
}

// FullMode runs everything: the paper scan loop, the ops API, and the
// archival loop shipping aged records to object storage.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.String("identity", deps.Identity.Hex()),
	)

	svc, err := a.buildArbService(deps, true)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Watch(ctx)
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiver(ctx, deps.Archiver)
		})
	} else {
		a.logger.WarnContext(ctx, "full mode: archiver disabled (needs s3 and postgres)")
	}

	if a.cfg.Server.Enabled {
		a.startOpsServer(ctx, g, deps, svc)
	}

	return g.Wait()
}

// buildArbService assembles the scan loop over the wired dependencies.
// paper enables simulated settlement of profitable divergences.
func (a *App) buildArbService(deps *Dependencies, paper bool) (*service.ArbService, error) {
	minProfit := new(big.Int)
	if a.cfg.Engine.MinProfit != "" {
		if _, ok := minProfit.SetString(a.cfg.Engine.MinProfit, 10); !ok {
			return nil, fmt.Errorf("app: engine.min_profit %q is not a decimal integer", a.cfg.Engine.MinProfit)
		}
	}
	startingCollateral, ok := new(big.Int).SetString(a.cfg.Sim.StartingCollateral, 10)
	if !ok {
		return nil, fmt.Errorf("app: sim.starting_collateral %q is not a decimal integer", a.cfg.Sim.StartingCollateral)
	}

	return service.NewArbService(service.Deps{
		Amm:           deps.Amm,
		Mint:          deps.Mint,
		Opportunities: deps.Opportunities,
		Settlements:   deps.Settlements,
		Snapshots:     deps.Snapshots,
		Locks:         deps.Locks,
		Bus:           deps.Bus,
		Notifier:      deps.Notifier,
		Metrics:       deps.Metrics,
		Logger:        a.logger,
	}, service.Config{
		CollateralIndex:    a.cfg.Venues.CollateralIndex,
		ScanInterval:       a.cfg.Engine.ScanInterval.Duration,
		MinProfit:          minProfit,
		LockTTL:            a.cfg.Engine.LockTTL.Duration,
		PaperExecution:     paper,
		Identity:           deps.Identity,
		StartingCollateral: startingCollateral,
		MintFeeBps:         a.cfg.Sim.MintFeeBps,
		RedeemFeeBps:       a.cfg.Sim.RedeemFeeBps,
	})
}

// startOpsServer adds the HTTP/WebSocket API goroutines to the given
// errgroup. svc is optional; when non-nil its loop status and on-demand
// scan endpoints are registered. The server is shut down gracefully when
// the context is cancelled.
func (a *App) startOpsServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.ArbService) {
	var statusProvider handler.StatusProvider
	if svc != nil {
		statusProvider = svc
	}

	arbH := handler.NewArbHandler(deps.Opportunities, deps.Settlements, a.logger)
	if svc != nil {
		arbH = arbH.WithScanner(svc)
	}

	// WebSocket hub needs the Redis signal bus; without it the REST
	// surface still works.
	var hub *ws.Hub
	if deps.Bus != nil {
		hub = ws.NewHub(deps.Bus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: time.Now().UTC(),
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	} else {
		a.logger.WarnContext(ctx, "ops server: redis disabled, websocket endpoint unavailable")
	}

	srv := server.NewServer(server.Config{
		Port:           a.cfg.Server.Port,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		APIKey:         a.cfg.Server.APIKey,
		RateLimitRPS:   a.cfg.Server.RateLimitRPS,
		RateLimitBurst: a.cfg.Server.RateLimitBurst,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(a.logger),
		Status:  handler.NewStatusHandler(a.cfg.Mode, statusProvider),
		Arb:     arbH,
		Metrics: promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}),
	}, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// runArchiver ships records older than the configured horizon to object
// storage on a fixed interval. Upload failures are logged and retried on
// the next tick.
func (a *App) runArchiver(ctx context.Context, archiver domain.Archiver) error {
	interval := a.cfg.S3.ArchiveInterval.Duration
	after := a.cfg.S3.ArchiveAfter.Duration

	a.logger.InfoContext(ctx, "archival loop started",
		slog.Duration("interval", interval),
		slog.Duration("archive_after", after),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-after)
			if _, err := archiver.ArchiveOpportunities(ctx, cutoff); err != nil {
				a.logger.ErrorContext(ctx, "archive opportunities failed",
					slog.String("error", err.Error()),
				)
			}
			if _, err := archiver.ArchiveSettlements(ctx, cutoff); err != nil {
				a.logger.ErrorContext(ctx, "archive settlements failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
