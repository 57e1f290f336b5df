package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
	"github.com/AceBoss1/afrodex-exchange/internal/server"
	"github.com/AceBoss1/afrodex-exchange/internal/server/handler"
	"github.com/AceBoss1/afrodex-exchange/internal/server/ws"
	"github.com/AceBoss1/afrodex-exchange/internal/settlement"
)

const shutdownTimeout = 10 * time.Second

// RelayerMode serves the API and websocket feed, and runs the reconciler and
// the archive schedule alongside it.
func (a *App) RelayerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting relayer mode")

	svcs, err := BuildServices(a.cfg, deps, a.logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, deps.SignalBus, ws.Config{AllowedOrigins: a.cfg.Server.CORSOrigins}, a.logger)
		g.Go(func() error {
			if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("ws hub: %w", err)
			}
			return nil
		})
	}

	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps, svcs, hub)
	}

	if rec := a.reconciler(deps); rec != nil && a.cfg.Reconciler.Enabled {
		g.Go(func() error {
			return rec.Run(ctx)
		})
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			a.archiveLoop(ctx, deps.Archiver)
			return nil
		})
	}

	return g.Wait()
}

// ReconcileMode runs one reconciliation pass and exits.
func (a *App) ReconcileMode(ctx context.Context, deps *Dependencies) error {
	rec := a.reconciler(deps)
	if rec == nil {
		cause := deps.Submitter.Ready()
		if cause == nil {
			cause = errors.New("no chain client")
		}
		return fmt.Errorf("app: reconcile mode needs a reachable chain node: %w", cause)
	}
	report, err := rec.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("app: reconcile: %w", err)
	}
	a.logger.InfoContext(ctx, "reconcile mode finished",
		slog.Int("checked", report.Checked),
		slog.Int("pending", report.Pending),
	)
	return nil
}

// ArchiveMode copies history older than the retention window to S3 once.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("app: archive mode needs s3 configured")
	}
	return a.archiveOnce(ctx, deps.Archiver)
}

func (a *App) reconciler(deps *Dependencies) *settlement.Reconciler {
	if deps.Chain == nil {
		return nil
	}
	rc := a.cfg.Reconciler
	rec := settlement.NewReconciler(deps.Journal, deps.Orders, deps.Chain, deps.Notifier, settlement.ReconcilerConfig{
		Interval:    rc.Interval.Duration,
		GracePeriod: rc.GracePeriod.Duration,
		DropAfter:   rc.DropAfter.Duration,
		BatchSize:   rc.BatchSize,
		Relayer:     deps.Submitter.RelayerAddress(),
	}, a.logger)
	rec.OnReport(func(r settlement.ReconcileReport) {
		deps.Metrics.ObserveReconcile(r.Committed, r.Reverted, r.Dropped, r.Failed)
	})
	return rec
}

func (a *App) archiveLoop(ctx context.Context, archiver domain.Archiver) {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := a.archiveOnce(ctx, archiver); err != nil && ctx.Err() == nil {
			a.logger.ErrorContext(ctx, "archive pass failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *App) archiveOnce(ctx context.Context, archiver domain.Archiver) error {
	cutoff := archiveCutoff(time.Now(), a.cfg.Archive.RetentionDays)
	orders, err := archiver.ArchiveFilledOrders(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("app: archive orders: %w", err)
	}
	settlements, err := archiver.ArchiveSettlements(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("app: archive settlements: %w", err)
	}
	a.logger.InfoContext(ctx, "archive pass finished",
		slog.Time("cutoff", cutoff),
		slog.Int64("orders", orders),
		slog.Int64("settlements", settlements),
	)
	return nil
}

func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *Services, hub *ws.Hub) {
	sc := a.cfg.Server
	var limiter domain.RateLimiter
	if deps.RateLimiter != nil {
		limiter = deps.RateLimiter
	}
	srv := server.NewServer(server.Config{
		Port:           sc.Port,
		CORSOrigins:    sc.CORSOrigins,
		APIKey:         sc.APIKey,
		InternalSecret: sc.InternalSecret,
		RateLimit:      sc.RateLimit,
		RateWindow:     sc.RateWindow.Duration,
		ConfirmTimeout: a.cfg.Chain.ConfirmTimeout.Duration,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(deps.Checks, a.logger),
		Orders:    handler.NewOrderHandler(svcs.Orders, a.logger),
		Match:     handler.NewMatchHandler(svcs.Matches, a.logger),
		OrderBook: handler.NewOrderBookHandler(svcs.Book, a.logger),
		Metrics:   deps.Metrics.Handler(),
	}, hub, limiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
