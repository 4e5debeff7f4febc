package domain

import "time"

// LedgerEventType names a committed ledger transition.
type LedgerEventType string

const (
	EventMarketCreated   LedgerEventType = "market_created"
	EventBetPlaced       LedgerEventType = "bet_placed"
	EventMarketSettled   LedgerEventType = "market_settled"
	EventWinningsClaimed LedgerEventType = "winnings_claimed"
	EventPayoutCompleted LedgerEventType = "payout_completed"
	EventPayoutFailed    LedgerEventType = "payout_failed"
)

// LedgerEvent is published after a transition commits.
type LedgerEvent struct {
	Type     LedgerEventType `json:"type"`
	MarketID uint64          `json:"market_id"`
	Actor    Principal       `json:"actor,omitempty"`
	Option   *int            `json:"option,omitempty"`
	Amount   uint64          `json:"amount,omitempty"`
	PayoutID string          `json:"payout_id,omitempty"`
	At       time.Time       `json:"at"`
}

// Channel returns the pub/sub channel the event is published on.
func (e LedgerEvent) Channel() string {
	switch e.Type {
	case EventMarketCreated:
		return "ledger:markets"
	case EventBetPlaced:
		return "ledger:bets"
	case EventMarketSettled:
		return "ledger:settlements"
	default:
		return "ledger:payouts"
	}
}
