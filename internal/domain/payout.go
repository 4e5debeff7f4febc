package domain

import (
	"context"
	"time"
)

// PayoutStatus tracks a claim's outward transfer.
type PayoutStatus string

const (
	PayoutStatusPending   PayoutStatus = "pending"
	PayoutStatusCompleted PayoutStatus = "completed"
)

// Payout is the reservation written when a position is claimed. It is the
// authority for the outward transfer of Amount from market custody to Bettor.
type Payout struct {
	ID          string       `json:"id"`
	MarketID    uint64       `json:"market_id"`
	Bettor      Principal    `json:"bettor"`
	Stake       uint64       `json:"stake"`
	Amount      uint64       `json:"amount"`
	Fee         uint64       `json:"fee"`
	Status      PayoutStatus `json:"status"`
	Attempts    int          `json:"attempts"`
	LastError   string       `json:"last_error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// PayoutTransferrer hands a reserved payout to the mechanism that moves value
// out of custody. Implementations must be idempotent on Payout.ID.
type PayoutTransferrer interface {
	Transfer(ctx context.Context, p Payout) error
}
