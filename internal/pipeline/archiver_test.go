package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeArchiver struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (f *fakeArchiver) ArchiveSettled(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, before)
	return int64(len(f.cutoffs)), f.err
}

func TestArchiverRunUsesMinAge(t *testing.T) {
	fake := &fakeArchiver{}
	a := NewArchiver(fake, 48*time.Hour, slog.New(slog.DiscardHandler))
	now := time.Date(2026, 4, 10, 3, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	if err := a.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(fake.cutoffs) != 1 || !fake.cutoffs[0].Equal(now.Add(-48*time.Hour)) {
		t.Fatalf("cutoffs = %v", fake.cutoffs)
	}

	fake.err = errors.New("s3 down")
	if err := a.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunCronRejectsBadExpression(t *testing.T) {
	a := NewArchiver(&fakeArchiver{}, time.Hour, slog.New(slog.DiscardHandler))
	if err := a.RunCron(context.Background(), "every day"); err == nil {
		t.Fatal("expected parse error")
	}
}

type blockingReconciler struct{ started chan struct{} }

func (r blockingReconciler) Run(ctx context.Context) error {
	close(r.started)
	<-ctx.Done()
	return ctx.Err()
}

func TestOrchestratorStopsCleanly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := blockingReconciler{started: make(chan struct{})}
	a := NewArchiver(&fakeArchiver{}, time.Hour, slog.New(slog.DiscardHandler))
	o := NewOrchestrator(rec, a, "0 3 * * *", slog.New(slog.DiscardHandler))

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	<-rec.started
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
}
