package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

// EventStream is the durable stream every committed ledger event is appended to.
const EventStream = "ledger:events"

const (
	lockTTL         = 5 * time.Second
	sequenceLockKey = "ledger:sequence"
)

func marketLockKey(id uint64) string {
	return fmt.Sprintf("ledger:market:%d", id)
}

// Alerter delivers operator notifications. *notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Deps holds the collaborators shared by the ledger components. Only Store is
// required; every other field may be nil.
type Deps struct {
	Store  domain.LedgerStore
	Cache  domain.MarketCache
	Locks  domain.LockManager
	Bus    domain.SignalBus
	Audit  domain.AuditStore
	Alerts Alerter
	Now    func() time.Time
	Logger *slog.Logger
}

// ledger is embedded by every component and carries the side-effect helpers
// run after a transaction commits.
type ledger struct {
	Deps
}

func newLedger(d Deps, component string) ledger {
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	d.Logger = d.Logger.With(slog.String("component", component))
	return ledger{Deps: d}
}

// lock takes the optional cross-process lock for key.
func (l *ledger) lock(ctx context.Context, key string) (func(), error) {
	if l.Locks == nil {
		return func() {}, nil
	}
	unlock, err := l.Locks.Acquire(ctx, key, lockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	return unlock, nil
}

// refresh writes a committed market snapshot through to the cache. When the
// write fails the entry is dropped so readers fall back to the store.
func (l *ledger) refresh(ctx context.Context, m domain.Market) {
	if l.Cache == nil {
		return
	}
	err := l.Cache.Set(ctx, m)
	if err == nil {
		return
	}
	l.Logger.WarnContext(ctx, "cache refresh failed",
		slog.Uint64("market_id", m.ID),
		slog.String("error", err.Error()),
	)
	if err := l.Cache.Invalidate(ctx, m.ID); err != nil {
		l.Logger.WarnContext(ctx, "cache invalidate failed",
			slog.Uint64("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
}

// emit publishes a committed event to the bus and the audit log. Failures are
// logged and never undo the committed transition.
func (l *ledger) emit(ctx context.Context, evt domain.LedgerEvent) {
	if l.Bus != nil {
		payload, err := json.Marshal(evt)
		if err != nil {
			l.Logger.WarnContext(ctx, "marshal event failed",
				slog.String("event", string(evt.Type)),
				slog.String("error", err.Error()),
			)
		} else {
			if pubErr := l.Bus.Publish(ctx, evt.Channel(), payload); pubErr != nil {
				l.Logger.WarnContext(ctx, "publish event failed",
					slog.String("event", string(evt.Type)),
					slog.String("error", pubErr.Error()),
				)
			}
			if appErr := l.Bus.StreamAppend(ctx, EventStream, payload); appErr != nil {
				l.Logger.WarnContext(ctx, "stream append failed",
					slog.String("event", string(evt.Type)),
					slog.String("error", appErr.Error()),
				)
			}
		}
	}

	if l.Audit != nil {
		detail := map[string]any{
			"market_id": evt.MarketID,
			"actor":     string(evt.Actor),
		}
		if evt.Option != nil {
			detail["option"] = *evt.Option
		}
		if evt.Amount > 0 {
			detail["amount"] = evt.Amount
		}
		if evt.PayoutID != "" {
			detail["payout_id"] = evt.PayoutID
		}
		if err := l.Audit.Log(ctx, string(evt.Type), detail); err != nil {
			l.Logger.WarnContext(ctx, "audit log failed",
				slog.String("event", string(evt.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (l *ledger) alert(ctx context.Context, event, title, message string) {
	if l.Alerts == nil {
		return
	}
	if err := l.Alerts.Notify(ctx, event, title, message); err != nil {
		l.Logger.WarnContext(ctx, "notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
