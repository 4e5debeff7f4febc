package domain

import (
	"fmt"
	"math"
	"time"
)

// MarketStatus represents the lifecycle state of a market. Only Active and
// Settled are ever persisted; Ended is derived at read time.
type MarketStatus string

const (
	MarketStatusActive  MarketStatus = "active"
	MarketStatusEnded   MarketStatus = "ended"
	MarketStatusSettled MarketStatus = "settled"
)

const (
	// MinOdds is the lowest accepted odds value (1.01x scaled by 100).
	MinOdds uint64 = 101

	// OddsScale is the fixed-point scale of Market.Odds.
	OddsScale = 100

	// MaxAmount bounds every amount and pool sum. Amounts are persisted as
	// signed 64-bit integers.
	MaxAmount uint64 = math.MaxInt64
)

// Principal identifies the caller of a ledger operation as authenticated by
// the hosting environment.
type Principal string

// Market is one bettable event with a fixed, ordered set of outcomes.
type Market struct {
	ID            uint64       `json:"id"`
	Title         string       `json:"title"`
	Options       []string     `json:"options"`
	Odds          []uint64     `json:"odds"`
	OptionPools   []uint64     `json:"option_pools"`
	TotalPool     uint64       `json:"total_pool"`
	Creator       Principal    `json:"creator"`
	EndTime       time.Time    `json:"end_time"`
	Status        MarketStatus `json:"status"`
	WinningOption *int         `json:"winning_option,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	SettledAt     *time.Time   `json:"settled_at,omitempty"`
}

// StatusAt returns the status observed at now: a stored Active market whose
// end time has passed reads as Ended.
func (m Market) StatusAt(now time.Time) MarketStatus {
	if m.Status == MarketStatusSettled {
		return MarketStatusSettled
	}
	if !now.Before(m.EndTime) {
		return MarketStatusEnded
	}
	return MarketStatusActive
}

// AcceptsBets reports whether new bets may be placed at now.
func (m Market) AcceptsBets(now time.Time) bool {
	return m.Status == MarketStatusActive && now.Before(m.EndTime)
}

// ValidOption reports whether idx addresses one of the market's options.
func (m Market) ValidOption(idx int) bool {
	return idx >= 0 && idx < len(m.Options)
}

// Clone returns a deep copy so callers cannot mutate shared slices.
func (m Market) Clone() Market {
	out := m
	out.Options = append([]string(nil), m.Options...)
	out.Odds = append([]uint64(nil), m.Odds...)
	out.OptionPools = append([]uint64(nil), m.OptionPools...)
	if m.WinningOption != nil {
		w := *m.WinningOption
		out.WinningOption = &w
	}
	if m.SettledAt != nil {
		t := *m.SettledAt
		out.SettledAt = &t
	}
	return out
}

// CheckInvariants verifies the structural invariants every committed market
// must satisfy.
func (m Market) CheckInvariants() error {
	if len(m.Options) < 2 {
		return ErrTooFewOptions
	}
	if len(m.Odds) != len(m.Options) || len(m.OptionPools) != len(m.Options) {
		return ErrOptionsOddsMismatch
	}
	var sum uint64
	for i, o := range m.Odds {
		if o < MinOdds {
			return ErrOddsTooLow
		}
		next, ok := AddAmount(sum, m.OptionPools[i])
		if !ok {
			return ErrAmountOverflow
		}
		sum = next
	}
	if sum != m.TotalPool {
		return ErrPoolMismatch
	}
	settled := m.Status == MarketStatusSettled
	if settled != (m.WinningOption != nil) {
		return ErrWinningOptionMismatch
	}
	if settled && !m.ValidOption(*m.WinningOption) {
		return ErrInvalidOption
	}
	return nil
}

// Revision orders the committed states of one market. Pools only grow while
// a market is active and settling is terminal, so every mutation yields a
// strictly greater revision. The result compares correctly as a string.
func (m Market) Revision() string {
	settled := 0
	if m.Status == MarketStatusSettled {
		settled = 1
	}
	return fmt.Sprintf("%d:%020d", settled, m.TotalPool)
}

// AddAmount returns a+b and false when the result would exceed MaxAmount.
func AddAmount(a, b uint64) (uint64, bool) {
	if a > MaxAmount || b > MaxAmount-a {
		return 0, false
	}
	return a + b, true
}
