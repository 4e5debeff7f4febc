package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/poolbet/internal/pipeline"
	"github.com/alanyoungcy/poolbet/internal/server"
	"github.com/alanyoungcy/poolbet/internal/server/handler"
	"github.com/alanyoungcy/poolbet/internal/server/ws"
	"github.com/alanyoungcy/poolbet/internal/service"
)

// Ledger groups the four ledger components and the payout reconciler.
type Ledger struct {
	Registry   *service.MarketRegistry
	Bets       *service.BettingLedger
	Settlement *service.SettlementEngine
	Payouts    *service.PayoutCalculator
	Reconciler *service.PayoutReconciler
}

func (a *App) buildLedger(deps *Dependencies) (*Ledger, error) {
	feeBps, err := a.cfg.Ledger.FeeBps()
	if err != nil {
		return nil, err
	}

	d := service.Deps{
		Store:  deps.Store,
		Cache:  deps.Cache,
		Locks:  deps.Locks,
		Bus:    deps.Bus,
		Logger: a.logger,
	}
	if deps.Audit != nil {
		d.Audit = deps.Audit
	}
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		d.Alerts = deps.Notifier
	}

	payouts := service.NewPayoutCalculator(d, deps.Transferrer, feeBps)
	return &Ledger{
		Registry: service.NewMarketRegistry(d, service.RegistryConfig{
			DurationUnit: a.cfg.Ledger.DurationUnit.Duration,
			MaxOptions:   a.cfg.Ledger.MaxOptions,
			MaxTitleLen:  a.cfg.Ledger.MaxTitleLen,
			MaxOptionLen: a.cfg.Ledger.MaxOptionLen,
		}),
		Bets:       service.NewBettingLedger(d, uint64(a.cfg.Ledger.MinBet)),
		Settlement: service.NewSettlementEngine(d),
		Payouts:    payouts,
		Reconciler: service.NewPayoutReconciler(
			payouts,
			a.cfg.Payout.ReconcileInterval.Duration,
			a.cfg.Payout.ReconcileMinAge.Duration,
			a.cfg.Payout.ReconcileBatch,
			a.logger,
		),
	}, nil
}

// ServerMode serves the HTTP API and, with Redis, the event WebSocket.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, ledger *Ledger) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, ledger)
	return g.Wait()
}

// WorkerMode runs the payout reconciler and the archive schedule without an
// API.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies, ledger *Ledger) error {
	a.logger.InfoContext(ctx, "starting worker mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, deps, ledger)
	return g.Wait()
}

// FullMode runs the API and the workers in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, ledger *Ledger) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, ledger)
	}
	a.startWorkers(ctx, g, deps, ledger)
	return g.Wait()
}

func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, deps *Dependencies, ledger *Ledger) {
	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.MinAge.Duration, a.logger)
	}
	orch := pipeline.NewOrchestrator(ledger.Reconciler, archiver, a.cfg.Archive.Cron, a.logger)
	g.Go(func() error {
		return orch.Run(ctx)
	})
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, ledger *Ledger) {
	var audit handler.AuditLister
	if deps.Audit != nil {
		audit = deps.Audit
	}

	var hub *ws.Hub
	var events *handler.EventHandler
	if deps.Bus != nil {
		events = handler.NewEventHandler(deps.Bus, service.EventStream, a.logger)
		hub = ws.NewHub(deps.Bus, a.cfg.Server.CORSOrigins, a.logger)
		g.Go(func() error {
			if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:     handler.NewHealthHandler(deps.Health, a.logger),
		Markets:    handler.NewMarketHandler(ledger.Registry, audit, a.logger),
		Bets:       handler.NewBetHandler(ledger.Bets, a.logger),
		Settlement: handler.NewSettlementHandler(ledger.Settlement, ledger.Payouts, a.logger),
		Events:     events,
	}, hub, deps.Limiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})
}
