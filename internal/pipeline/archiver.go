// Package pipeline runs the background ledger workers: the payout reconciler
// and the scheduled cold-storage archive.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

// Archiver copies settled markets to cold storage on a cron schedule.
type Archiver struct {
	blobArchiver domain.Archiver
	minAge       time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// NewArchiver creates an Archiver that exports markets settled at least
// minAge ago.
func NewArchiver(blobArchiver domain.Archiver, minAge time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver: blobArchiver,
		minAge:       minAge,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger.With(slog.String("component", "archive_scheduler")),
	}
}

// Run executes a single archive pass.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().Add(-a.minAge)
	start := time.Now()

	n, err := a.blobArchiver.ArchiveSettled(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving markets settled before %v: %w", cutoff, err)
	}
	a.logger.InfoContext(ctx, "archive run complete",
		slog.Time("cutoff", cutoff),
		slog.Int64("markets_archived", n),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

// RunCron runs the archiver on a standard 5-field cron schedule until ctx is
// cancelled. A failed run is logged and retried at the next trigger.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}

	c := cron.New(cron.WithLocation(time.UTC))
	c.Schedule(sched, cron.FuncJob(func() {
		if err := a.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
	}))

	a.logger.InfoContext(ctx, "archiver cron started",
		slog.String("cron", cronExpr),
		slog.Time("next_run", sched.Next(a.now())),
	)
	c.Start()
	<-ctx.Done()

	// Wait for an in-flight run to observe cancellation.
	<-c.Stop().Done()
	a.logger.Info("archiver cron stopped")
	return ctx.Err()
}
