package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// LedgerStore is the persistent keyed store shared by every ledger component.
// It holds market[id], position[(id, bettor)], the market id sequence and the
// payout reservations of the two-phase claim.
//
// Update runs fn as one atomic read-modify-write unit: if fn returns an error
// nothing it wrote is visible, otherwise everything is committed together.
// Concurrent Update calls touching the same market are serialized.
type LedgerStore interface {
	Update(ctx context.Context, fn func(tx LedgerTx) error) error
	View(ctx context.Context, fn func(tx LedgerTx) error) error
}

// LedgerTx is the view of the store inside one transaction.
type LedgerTx interface {
	// MarketCount returns the current value of the market id sequence.
	MarketCount(ctx context.Context) (uint64, error)
	// CreateMarket advances the sequence, stores m under the new id and
	// returns it.
	CreateMarket(ctx context.Context, m Market) (uint64, error)
	// GetMarket returns ErrMarketNotFound for unknown ids. Inside Update the
	// market row is locked until commit.
	GetMarket(ctx context.Context, id uint64) (Market, error)
	UpdateMarket(ctx context.Context, m Market) error
	ListMarkets(ctx context.Context, opts ListOpts) ([]Market, error)
	// ListSettledBefore returns settled markets whose settlement happened
	// strictly before the cutoff.
	ListSettledBefore(ctx context.Context, before time.Time, limit int) ([]Market, error)

	// GetPosition returns ErrNoPosition when the bettor never bet.
	GetPosition(ctx context.Context, marketID uint64, bettor Principal) (UserPosition, error)
	PutPosition(ctx context.Context, p UserPosition) error
	ListPositions(ctx context.Context, marketID uint64) ([]UserPosition, error)

	CreatePayout(ctx context.Context, p Payout) error
	GetPayout(ctx context.Context, id string) (Payout, error)
	UpdatePayout(ctx context.Context, p Payout) error
	ListPayouts(ctx context.Context, marketID uint64) ([]Payout, error)
	ListPendingPayouts(ctx context.Context, limit int) ([]Payout, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
