package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

// BpsDenominator is the basis-point scale of protocol fees.
const BpsDenominator uint64 = 10_000

// ComputePayout returns the parimutuel payout for stake on the winning option
// and the protocol fee retained from the winnings:
//
//	payout = stake + floor(stake * losing * (10000 - feeBps) / (winningPool * 10000))
//	fee    = floor(stake * losing / winningPool) - (payout - stake)
//
// where losing = totalPool - winningPool. The products are evaluated in
// 256-bit integers with one truncating division, so the sum of all payouts
// never exceeds totalPool.
func ComputePayout(stake, winningPool, totalPool, feeBps uint64) (payout, fee uint64, err error) {
	if stake == 0 {
		return 0, 0, nil
	}
	if feeBps >= BpsDenominator {
		return 0, 0, fmt.Errorf("%w: fee %d bps", domain.ErrValidation, feeBps)
	}
	if winningPool < stake || totalPool < winningPool {
		return 0, 0, fmt.Errorf("%w: stake %d, winning pool %d, total pool %d",
			domain.ErrPoolMismatch, stake, winningPool, totalPool)
	}

	losing := totalPool - winningPool
	numerator := new(uint256.Int).Mul(uint256.NewInt(stake), uint256.NewInt(losing))
	gross := new(uint256.Int).Div(numerator, uint256.NewInt(winningPool))

	numerator.Mul(numerator, uint256.NewInt(BpsDenominator-feeBps))
	denominator := new(uint256.Int).Mul(uint256.NewInt(winningPool), uint256.NewInt(BpsDenominator))
	share := new(uint256.Int).Div(numerator, denominator)

	// share <= gross <= losing, so both fit in 64 bits.
	payout, ok := domain.AddAmount(stake, share.Uint64())
	if !ok {
		return 0, 0, domain.ErrAmountOverflow
	}
	return payout, gross.Uint64() - share.Uint64(), nil
}

// PayoutCalculator settles claims against resolved markets. A claim commits
// the position flag and a pending payout reservation together, then hands
// the reservation to the PayoutTransferrer.
type PayoutCalculator struct {
	ledger
	transferrer domain.PayoutTransferrer
	feeBps      uint64
}

// NewPayoutCalculator creates a PayoutCalculator retaining feeBps basis
// points of every winner's share.
func NewPayoutCalculator(d Deps, transferrer domain.PayoutTransferrer, feeBps uint64) *PayoutCalculator {
	return &PayoutCalculator{
		ledger:      newLedger(d, "payout_calculator"),
		transferrer: transferrer,
		feeBps:      feeBps,
	}
}

// Claim closes bettor's position in a settled market and returns the payout
// record. A failed transfer leaves the payout pending for the reconciler and
// is not an error of Claim.
func (p *PayoutCalculator) Claim(ctx context.Context, marketID uint64, bettor domain.Principal) (domain.Payout, error) {
	unlock, err := p.lock(ctx, marketLockKey(marketID))
	if err != nil {
		return domain.Payout{}, fmt.Errorf("payout_calculator: claim: %w", err)
	}
	defer unlock()

	now := p.Now()
	var payout domain.Payout
	err = p.Store.Update(ctx, func(tx domain.LedgerTx) error {
		m, err := tx.GetMarket(ctx, marketID)
		if err != nil {
			return err
		}
		if bettor == "" {
			return domain.ErrMissingPrincipal
		}
		if m.Status != domain.MarketStatusSettled || m.WinningOption == nil {
			return domain.ErrMarketNotSettled
		}
		pos, err := tx.GetPosition(ctx, marketID, bettor)
		if err != nil {
			return err
		}
		if pos.Claimed {
			return domain.ErrAlreadyClaimed
		}

		w := *m.WinningOption
		if !m.ValidOption(w) || len(pos.BetsByOption) != len(m.Options) {
			return fmt.Errorf("%w: market %d position of %s", domain.ErrPositionMismatch, marketID, bettor)
		}
		stake := pos.BetsByOption[w]
		amount, fee, err := ComputePayout(stake, m.OptionPools[w], m.TotalPool, p.feeBps)
		if err != nil {
			return err
		}

		claimedAt := now
		pos.Claimed = true
		pos.ClaimedAt = &claimedAt
		if err := tx.PutPosition(ctx, pos); err != nil {
			return err
		}

		payout = domain.Payout{
			ID:        uuid.NewString(),
			MarketID:  marketID,
			Bettor:    bettor,
			Stake:     stake,
			Amount:    amount,
			Fee:       fee,
			Status:    domain.PayoutStatusPending,
			CreatedAt: now,
		}
		if amount == 0 {
			payout.Status = domain.PayoutStatusCompleted
			payout.CompletedAt = &claimedAt
		}
		return tx.CreatePayout(ctx, payout)
	})
	if err != nil {
		return domain.Payout{}, fmt.Errorf("payout_calculator: claim market %d: %w", marketID, err)
	}

	p.Logger.InfoContext(ctx, "winnings claimed",
		slog.Uint64("market_id", marketID),
		slog.String("bettor", string(bettor)),
		slog.String("payout_id", payout.ID),
		slog.String("stake", domain.FormatAmount(payout.Stake)),
		slog.String("amount", domain.FormatAmount(payout.Amount)),
		slog.String("fee", domain.FormatAmount(payout.Fee)),
	)
	p.emit(ctx, domain.LedgerEvent{
		Type:     domain.EventWinningsClaimed,
		MarketID: marketID,
		Actor:    bettor,
		Amount:   payout.Amount,
		PayoutID: payout.ID,
		At:       now,
	})

	if payout.Status == domain.PayoutStatusPending {
		delivered, err := p.Deliver(ctx, payout)
		if err != nil {
			p.Logger.WarnContext(ctx, "payout left pending",
				slog.String("payout_id", payout.ID),
				slog.String("error", err.Error()),
			)
		}
		payout = delivered
	}
	return payout, nil
}

// Deliver transfers a pending payout and records the outcome. Completed
// payouts are returned unchanged. On transfer failure the payout stays
// pending with the attempt recorded and the transfer error is returned.
func (p *PayoutCalculator) Deliver(ctx context.Context, payout domain.Payout) (domain.Payout, error) {
	if payout.Status == domain.PayoutStatusCompleted {
		return payout, nil
	}

	transferErr := p.transferrer.Transfer(ctx, payout)
	now := p.Now()

	var done bool
	err := p.Store.Update(ctx, func(tx domain.LedgerTx) error {
		cur, err := tx.GetPayout(ctx, payout.ID)
		if err != nil {
			return err
		}
		if cur.Status == domain.PayoutStatusCompleted {
			payout, done = cur, true
			return nil
		}
		cur.Attempts++
		if transferErr != nil {
			cur.LastError = transferErr.Error()
		} else {
			completedAt := now
			cur.Status = domain.PayoutStatusCompleted
			cur.CompletedAt = &completedAt
			cur.LastError = ""
		}
		payout = cur
		return tx.UpdatePayout(ctx, cur)
	})
	if err != nil {
		return payout, fmt.Errorf("payout_calculator: record transfer of %s: %w", payout.ID, err)
	}
	if done {
		return payout, nil
	}

	if transferErr != nil {
		p.emit(ctx, domain.LedgerEvent{
			Type:     domain.EventPayoutFailed,
			MarketID: payout.MarketID,
			Actor:    payout.Bettor,
			Amount:   payout.Amount,
			PayoutID: payout.ID,
			At:       now,
		})
		p.alert(ctx, string(domain.EventPayoutFailed),
			fmt.Sprintf("Payout %s failed", payout.ID),
			fmt.Sprintf("Market #%d, bettor %s, amount %s, attempt %d: %v",
				payout.MarketID, payout.Bettor, domain.FormatAmount(payout.Amount), payout.Attempts, transferErr),
		)
		return payout, fmt.Errorf("payout_calculator: transfer %s: %w", payout.ID, transferErr)
	}

	p.Logger.InfoContext(ctx, "payout completed",
		slog.String("payout_id", payout.ID),
		slog.Int("attempts", payout.Attempts),
	)
	p.emit(ctx, domain.LedgerEvent{
		Type:     domain.EventPayoutCompleted,
		MarketID: payout.MarketID,
		Actor:    payout.Bettor,
		Amount:   payout.Amount,
		PayoutID: payout.ID,
		At:       now,
	})
	return payout, nil
}

// Payouts lists the payout records of a market in creation order.
func (p *PayoutCalculator) Payouts(ctx context.Context, marketID uint64) ([]domain.Payout, error) {
	var out []domain.Payout
	err := p.Store.View(ctx, func(tx domain.LedgerTx) error {
		if _, err := tx.GetMarket(ctx, marketID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListPayouts(ctx, marketID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("payout_calculator: list payouts: %w", err)
	}
	return out, nil
}

// PendingPayouts returns up to limit pending payouts, oldest first.
func (p *PayoutCalculator) PendingPayouts(ctx context.Context, limit int) ([]domain.Payout, error) {
	var out []domain.Payout
	err := p.Store.View(ctx, func(tx domain.LedgerTx) error {
		var err error
		out, err = tx.ListPendingPayouts(ctx, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("payout_calculator: list pending: %w", err)
	}
	return out, nil
}
