package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

// DefaultMinBet is the smallest accepted stake in base units (1.0 unit).
const DefaultMinBet uint64 = 1_000_000

// BettingLedger records bets and maintains the pool sums.
type BettingLedger struct {
	ledger
	minBet uint64
}

// NewBettingLedger creates a BettingLedger. A zero minBet uses DefaultMinBet.
func NewBettingLedger(d Deps, minBet uint64) *BettingLedger {
	if minBet == 0 {
		minBet = DefaultMinBet
	}
	return &BettingLedger{ledger: newLedger(d, "betting_ledger"), minBet: minBet}
}

// PlaceBet adds amount to option of market marketID on behalf of bettor. The
// funds are assumed to be already in custody. It returns the updated position.
func (b *BettingLedger) PlaceBet(
	ctx context.Context,
	marketID uint64,
	option int,
	bettor domain.Principal,
	amount uint64,
) (domain.UserPosition, error) {
	unlock, err := b.lock(ctx, marketLockKey(marketID))
	if err != nil {
		return domain.UserPosition{}, fmt.Errorf("betting_ledger: place bet: %w", err)
	}
	defer unlock()

	now := b.Now()
	var (
		m   domain.Market
		pos domain.UserPosition
	)
	err = b.Store.Update(ctx, func(tx domain.LedgerTx) error {
		var err error
		m, err = tx.GetMarket(ctx, marketID)
		if err != nil {
			return err
		}
		if bettor == "" {
			return domain.ErrMissingPrincipal
		}
		if !m.AcceptsBets(now) {
			return domain.ErrMarketClosed
		}
		if !m.ValidOption(option) {
			return domain.ErrInvalidOption
		}
		if amount < b.minBet {
			return fmt.Errorf("%w: %d < %d", domain.ErrBetTooSmall, amount, b.minBet)
		}

		pos, err = tx.GetPosition(ctx, marketID, bettor)
		if errors.Is(err, domain.ErrNoPosition) {
			pos = domain.NewPosition(marketID, bettor, len(m.Options))
		} else if err != nil {
			return err
		}
		if len(pos.BetsByOption) != len(m.Options) {
			return fmt.Errorf("%w: position has %d buckets for %d options",
				domain.ErrPositionMismatch, len(pos.BetsByOption), len(m.Options))
		}

		optionPool, ok1 := domain.AddAmount(m.OptionPools[option], amount)
		total, ok2 := domain.AddAmount(m.TotalPool, amount)
		bucket, ok3 := domain.AddAmount(pos.BetsByOption[option], amount)
		totalBet, ok4 := domain.AddAmount(pos.TotalBet, amount)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return domain.ErrAmountOverflow
		}

		m.OptionPools[option] = optionPool
		m.TotalPool = total
		pos.BetsByOption[option] = bucket
		pos.TotalBet = totalBet

		if err := tx.UpdateMarket(ctx, m); err != nil {
			return err
		}
		return tx.PutPosition(ctx, pos)
	})
	if err != nil {
		return domain.UserPosition{}, fmt.Errorf("betting_ledger: place bet on market %d: %w", marketID, err)
	}

	b.refresh(ctx, m)
	b.Logger.InfoContext(ctx, "bet placed",
		slog.Uint64("market_id", marketID),
		slog.Int("option", option),
		slog.String("bettor", string(bettor)),
		slog.String("amount", domain.FormatAmount(amount)),
	)
	b.emit(ctx, domain.LedgerEvent{
		Type:     domain.EventBetPlaced,
		MarketID: marketID,
		Actor:    bettor,
		Option:   &option,
		Amount:   amount,
		At:       now,
	})
	return pos, nil
}

// GetUserPosition returns bettor's position in marketID, or a zero-valued
// position when the bettor never bet on an existing market.
func (b *BettingLedger) GetUserPosition(ctx context.Context, marketID uint64, bettor domain.Principal) (domain.UserPosition, error) {
	var pos domain.UserPosition
	err := b.Store.View(ctx, func(tx domain.LedgerTx) error {
		m, err := tx.GetMarket(ctx, marketID)
		if err != nil {
			return err
		}
		pos, err = tx.GetPosition(ctx, marketID, bettor)
		if errors.Is(err, domain.ErrNoPosition) {
			pos = domain.NewPosition(marketID, bettor, len(m.Options))
			return nil
		}
		return err
	})
	if err != nil {
		return domain.UserPosition{}, fmt.Errorf("betting_ledger: get position: %w", err)
	}
	return pos, nil
}
