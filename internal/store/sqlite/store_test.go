package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testMarket() domain.Market {
	return domain.Market{
		Title:       "Rain tomorrow?",
		Options:     []string{"Yes", "No"},
		Odds:        []uint64{180, 220},
		OptionPools: []uint64{0, 0},
		Creator:     "alice",
		EndTime:     time.Date(2026, 5, 2, 9, 30, 0, 0, time.UTC),
		Status:      domain.MarketStatusActive,
		CreatedAt:   time.Date(2026, 5, 1, 9, 30, 0, 123456789, time.UTC),
	}
}

func TestMarketRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var id uint64
	err := s.Update(ctx, func(tx domain.LedgerTx) error {
		var err error
		id, err = tx.CreateMarket(ctx, testMarket())
		return err
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != 1 {
		t.Fatalf("id = %d, want 1", id)
	}

	settledAt := time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC)
	err = s.Update(ctx, func(tx domain.LedgerTx) error {
		m, err := tx.GetMarket(ctx, id)
		if err != nil {
			return err
		}
		w := 1
		m.OptionPools = []uint64{domain.MaxAmount - 7, 7}
		m.TotalPool = domain.MaxAmount
		m.Status = domain.MarketStatusSettled
		m.WinningOption = &w
		m.SettledAt = &settledAt
		return tx.UpdateMarket(ctx, m)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = s.View(ctx, func(tx domain.LedgerTx) error {
		m, err := tx.GetMarket(ctx, id)
		if err != nil {
			return err
		}
		want := testMarket()
		if m.Title != want.Title || m.Options[1] != "No" || m.Odds[0] != 180 {
			t.Fatalf("market = %+v", m)
		}
		if !m.CreatedAt.Equal(want.CreatedAt) || !m.EndTime.Equal(want.EndTime) {
			t.Fatalf("times = %v / %v", m.CreatedAt, m.EndTime)
		}
		if m.TotalPool != domain.MaxAmount || m.OptionPools[0] != domain.MaxAmount-7 {
			t.Fatalf("pools = %v total %d", m.OptionPools, m.TotalPool)
		}
		if m.WinningOption == nil || *m.WinningOption != 1 || m.SettledAt == nil || !m.SettledAt.Equal(settledAt) {
			t.Fatalf("settlement = %v %v", m.WinningOption, m.SettledAt)
		}
		if err := m.CheckInvariants(); err != nil {
			t.Fatalf("invariants: %v", err)
		}
		n, err := tx.MarketCount(ctx)
		if err != nil {
			return err
		}
		if n != 1 {
			t.Fatalf("count = %d", n)
		}
		if _, err := tx.GetMarket(ctx, 2); !errors.Is(err, domain.ErrMarketNotFound) {
			t.Fatalf("missing market err = %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestUpdateRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx domain.LedgerTx) error {
		if _, err := tx.CreateMarket(ctx, testMarket()); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}

	_ = s.View(ctx, func(tx domain.LedgerTx) error {
		n, err := tx.MarketCount(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if n != 0 {
			t.Fatalf("sequence advanced by rolled back create: %d", n)
		}
		return nil
	})
}

func TestPositionsAndPayouts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC)

	err := s.Update(ctx, func(tx domain.LedgerTx) error {
		id, err := tx.CreateMarket(ctx, testMarket())
		if err != nil {
			return err
		}
		if _, err := tx.GetPosition(ctx, id, "bob"); !errors.Is(err, domain.ErrNoPosition) {
			t.Fatalf("missing position err = %v", err)
		}
		p := domain.NewPosition(id, "bob", 2)
		p.BetsByOption[0] = 3_000_000
		p.TotalBet = 3_000_000
		if err := tx.PutPosition(ctx, p); err != nil {
			return err
		}
		p.Claimed = true
		p.ClaimedAt = &now
		if err := tx.PutPosition(ctx, p); err != nil {
			return err
		}
		return tx.CreatePayout(ctx, domain.Payout{
			ID: "p1", MarketID: id, Bettor: "bob", Stake: 3_000_000, Amount: 3_000_000,
			Status: domain.PayoutStatusPending, CreatedAt: now,
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	err = s.Update(ctx, func(tx domain.LedgerTx) error {
		return tx.CreatePayout(ctx, domain.Payout{
			ID: "p2", MarketID: 1, Bettor: "bob", Status: domain.PayoutStatusPending, CreatedAt: now,
		})
	})
	if !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("duplicate payout err = %v", err)
	}

	err = s.Update(ctx, func(tx domain.LedgerTx) error {
		p, err := tx.GetPayout(ctx, "p1")
		if err != nil {
			return err
		}
		p.Status = domain.PayoutStatusCompleted
		p.Attempts = 1
		p.CompletedAt = &now
		return tx.UpdatePayout(ctx, p)
	})
	if err != nil {
		t.Fatal(err)
	}

	_ = s.View(ctx, func(tx domain.LedgerTx) error {
		pos, err := tx.GetPosition(ctx, 1, "bob")
		if err != nil {
			t.Fatal(err)
		}
		if !pos.Claimed || pos.ClaimedAt == nil || pos.BetsByOption[0] != 3_000_000 {
			t.Fatalf("position = %+v", pos)
		}
		pending, err := tx.ListPendingPayouts(ctx, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(pending) != 0 {
			t.Fatalf("pending = %+v", pending)
		}
		all, err := tx.ListPayouts(ctx, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 1 || all[0].Status != domain.PayoutStatusCompleted || all[0].CompletedAt == nil {
			t.Fatalf("payouts = %+v", all)
		}
		return nil
	})
}

func TestViewRejectsWrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	err := s.View(ctx, func(tx domain.LedgerTx) error {
		_, err := tx.CreateMarket(ctx, testMarket())
		return err
	})
	if err == nil {
		t.Fatal("write inside View succeeded")
	}
}
