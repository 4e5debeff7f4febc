package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Reconciler retries payout transfers left pending by failed claims.
// *service.PayoutReconciler satisfies it.
type Reconciler interface {
	Run(ctx context.Context) error
}

// Orchestrator manages the worker goroutines. Either worker may be nil.
type Orchestrator struct {
	reconciler  Reconciler
	archiver    *Archiver
	archiveCron string
	logger      *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(reconciler Reconciler, archiver *Archiver, archiveCron string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		reconciler:  reconciler,
		archiver:    archiver,
		archiveCron: archiveCron,
		logger:      logger.With(slog.String("component", "pipeline")),
	}
}

// Run starts the configured workers and blocks until ctx is cancelled or one
// of them fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "pipeline starting",
		slog.Bool("reconciler", o.reconciler != nil),
		slog.Bool("archiver", o.archiver != nil),
		slog.String("archive_cron", o.archiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	if o.reconciler != nil {
		g.Go(func() error {
			return cleanExit(ctx, "payout reconciler", o.reconciler.Run(ctx))
		})
	}
	if o.archiver != nil {
		g.Go(func() error {
			return cleanExit(ctx, "archiver", o.archiver.RunCron(ctx, o.archiveCron))
		})
	}

	err := g.Wait()
	o.logger.Info("pipeline stopped")
	return err
}

// cleanExit maps a worker's exit after cancellation to nil.
func cleanExit(ctx context.Context, name string, err error) error {
	if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}
