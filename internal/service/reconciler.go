package service

import (
	"context"
	"log/slog"
	"time"
)

// PayoutReconciler periodically retries payouts whose transfer failed or was
// interrupted after the claim committed.
type PayoutReconciler struct {
	payouts  *PayoutCalculator
	interval time.Duration
	minAge   time.Duration
	batch    int
	logger   *slog.Logger
}

// NewPayoutReconciler creates a reconciler that wakes every interval and
// retries up to batch pending payouts older than minAge. The age threshold
// keeps it from racing claims that are still delivering.
func NewPayoutReconciler(payouts *PayoutCalculator, interval, minAge time.Duration, batch int, logger *slog.Logger) *PayoutReconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &PayoutReconciler{
		payouts:  payouts,
		interval: interval,
		minAge:   minAge,
		batch:    batch,
		logger:   logger.With(slog.String("component", "payout_reconciler")),
	}
}

// Run loops until ctx is cancelled.
func (r *PayoutReconciler) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "payout reconciler started", slog.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "payout reconciler stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.ReconcileOnce(ctx); err != nil {
				r.logger.ErrorContext(ctx, "reconcile failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ReconcileOnce retries one batch and returns how many payouts completed.
func (r *PayoutReconciler) ReconcileOnce(ctx context.Context) (int, error) {
	pending, err := r.payouts.PendingPayouts(ctx, r.batch)
	if err != nil {
		return 0, err
	}

	cutoff := r.payouts.Now().Add(-r.minAge)
	completed := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			return completed, ctx.Err()
		}
		if p.CreatedAt.After(cutoff) {
			continue
		}
		if _, err := r.payouts.Deliver(ctx, p); err != nil {
			r.logger.WarnContext(ctx, "payout retry failed",
				slog.String("payout_id", p.ID),
				slog.Int("attempts", p.Attempts+1),
				slog.String("error", err.Error()),
			)
			continue
		}
		completed++
	}

	if len(pending) > 0 {
		r.logger.InfoContext(ctx, "reconcile pass complete",
			slog.Int("pending", len(pending)),
			slog.Int("completed", completed),
		)
	}
	return completed, nil
}
