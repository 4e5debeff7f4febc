package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

// SettlementEngine resolves ended markets to a winning option.
type SettlementEngine struct {
	ledger
}

// NewSettlementEngine creates a SettlementEngine.
func NewSettlementEngine(d Deps) *SettlementEngine {
	return &SettlementEngine{ledger: newLedger(d, "settlement_engine")}
}

// Settle records winningOption as the outcome of marketID. Only the creator
// may settle, only once, and only after the end time. No funds move.
func (s *SettlementEngine) Settle(
	ctx context.Context,
	marketID uint64,
	winningOption int,
	caller domain.Principal,
) (domain.Market, error) {
	unlock, err := s.lock(ctx, marketLockKey(marketID))
	if err != nil {
		return domain.Market{}, fmt.Errorf("settlement_engine: settle: %w", err)
	}
	defer unlock()

	now := s.Now()
	var m domain.Market
	err = s.Store.Update(ctx, func(tx domain.LedgerTx) error {
		var err error
		m, err = tx.GetMarket(ctx, marketID)
		if err != nil {
			return err
		}
		// Timing is checked before identity so an early call fails the same
		// way for every caller.
		if now.Before(m.EndTime) {
			return domain.ErrMarketStillOpen
		}
		if caller != m.Creator {
			return domain.ErrNotCreator
		}
		if m.Status != domain.MarketStatusActive {
			return domain.ErrAlreadySettled
		}
		if !m.ValidOption(winningOption) {
			return domain.ErrInvalidOption
		}

		w := winningOption
		settledAt := now
		m.Status = domain.MarketStatusSettled
		m.WinningOption = &w
		m.SettledAt = &settledAt
		return tx.UpdateMarket(ctx, m)
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("settlement_engine: settle market %d: %w", marketID, err)
	}

	s.refresh(ctx, m)
	s.Logger.InfoContext(ctx, "market settled",
		slog.Uint64("market_id", marketID),
		slog.Int("winning_option", winningOption),
		slog.String("total_pool", domain.FormatAmount(m.TotalPool)),
		slog.String("winning_pool", domain.FormatAmount(m.OptionPools[winningOption])),
	)
	s.emit(ctx, domain.LedgerEvent{
		Type:     domain.EventMarketSettled,
		MarketID: marketID,
		Actor:    caller,
		Option:   &winningOption,
		Amount:   m.TotalPool,
		At:       now,
	})
	s.alert(ctx, string(domain.EventMarketSettled),
		fmt.Sprintf("Market #%d settled", marketID),
		fmt.Sprintf("%s\nWinner: %s\nPool: %s",
			m.Title, m.Options[winningOption], domain.FormatAmount(m.TotalPool)),
	)
	return m, nil
}
