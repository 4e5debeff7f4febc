package domain

import "time"

// UserPosition is one bettor's accumulated stake in one market.
type UserPosition struct {
	MarketID     uint64     `json:"market_id"`
	Bettor       Principal  `json:"bettor"`
	BetsByOption []uint64   `json:"bets_by_option"`
	TotalBet     uint64     `json:"total_bet"`
	Claimed      bool       `json:"claimed"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty"`
}

// NewPosition returns the zero-valued position for a market with n options.
func NewPosition(marketID uint64, bettor Principal, n int) UserPosition {
	return UserPosition{
		MarketID:     marketID,
		Bettor:       bettor,
		BetsByOption: make([]uint64, n),
	}
}

// Clone returns a deep copy of the position.
func (p UserPosition) Clone() UserPosition {
	out := p
	out.BetsByOption = append([]uint64(nil), p.BetsByOption...)
	if p.ClaimedAt != nil {
		t := *p.ClaimedAt
		out.ClaimedAt = &t
	}
	return out
}

// CheckInvariants verifies total_bet == sum(bets_by_option).
func (p UserPosition) CheckInvariants() error {
	var sum uint64
	for _, b := range p.BetsByOption {
		next, ok := AddAmount(sum, b)
		if !ok {
			return ErrAmountOverflow
		}
		sum = next
	}
	if sum != p.TotalBet {
		return ErrPositionMismatch
	}
	return nil
}
