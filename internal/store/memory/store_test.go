package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

func testMarket() domain.Market {
	return domain.Market{
		Title:       "t",
		Options:     []string{"A", "B"},
		Odds:        []uint64{150, 150},
		OptionPools: []uint64{0, 0},
		Creator:     "alice",
		EndTime:     time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		Status:      domain.MarketStatusActive,
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx domain.LedgerTx) error {
		if _, err := tx.CreateMarket(ctx, testMarket()); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	err = s.View(ctx, func(tx domain.LedgerTx) error {
		n, err := tx.MarketCount(ctx)
		if err != nil {
			return err
		}
		if n != 0 {
			t.Fatalf("count after rollback = %d", n)
		}
		if _, err := tx.GetMarket(ctx, 1); !errors.Is(err, domain.ErrMarketNotFound) {
			t.Fatalf("rolled back market visible: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestUpdateSeesOwnWrites(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.Update(ctx, func(tx domain.LedgerTx) error {
		id, err := tx.CreateMarket(ctx, testMarket())
		if err != nil {
			return err
		}
		m, err := tx.GetMarket(ctx, id)
		if err != nil {
			return err
		}
		m.OptionPools[1] = 5
		m.TotalPool = 5
		if err := tx.UpdateMarket(ctx, m); err != nil {
			return err
		}
		pos := domain.NewPosition(id, "bob", 2)
		pos.BetsByOption[1] = 5
		pos.TotalBet = 5
		return tx.PutPosition(ctx, pos)
	})
	if err != nil {
		t.Fatal(err)
	}

	err = s.View(ctx, func(tx domain.LedgerTx) error {
		m, err := tx.GetMarket(ctx, 1)
		if err != nil {
			return err
		}
		if m.TotalPool != 5 {
			t.Fatalf("total pool = %d", m.TotalPool)
		}
		positions, err := tx.ListPositions(ctx, 1)
		if err != nil {
			return err
		}
		if len(positions) != 1 || positions[0].TotalBet != 5 {
			t.Fatalf("positions = %+v", positions)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestViewIsReadOnly(t *testing.T) {
	s := New()
	ctx := context.Background()
	err := s.View(ctx, func(tx domain.LedgerTx) error {
		_, err := tx.CreateMarket(ctx, testMarket())
		return err
	})
	if err == nil {
		t.Fatal("write inside View succeeded")
	}
}

func TestReturnedMarketsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.Update(ctx, func(tx domain.LedgerTx) error {
		_, err := tx.CreateMarket(ctx, testMarket())
		return err
	}); err != nil {
		t.Fatal(err)
	}

	_ = s.View(ctx, func(tx domain.LedgerTx) error {
		m, _ := tx.GetMarket(ctx, 1)
		m.OptionPools[0] = 99
		return nil
	})
	_ = s.View(ctx, func(tx domain.LedgerTx) error {
		m, _ := tx.GetMarket(ctx, 1)
		if m.OptionPools[0] != 0 {
			t.Fatalf("stored market mutated through returned copy")
		}
		return nil
	})
}

func TestPayoutUniquePerBettor(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	err := s.Update(ctx, func(tx domain.LedgerTx) error {
		if _, err := tx.CreateMarket(ctx, testMarket()); err != nil {
			return err
		}
		return tx.CreatePayout(ctx, domain.Payout{ID: "p1", MarketID: 1, Bettor: "bob", Status: domain.PayoutStatusPending, CreatedAt: now})
	})
	if err != nil {
		t.Fatal(err)
	}

	err = s.Update(ctx, func(tx domain.LedgerTx) error {
		return tx.CreatePayout(ctx, domain.Payout{ID: "p2", MarketID: 1, Bettor: "bob", Status: domain.PayoutStatusPending, CreatedAt: now})
	})
	if !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("duplicate payout err = %v", err)
	}

	_ = s.View(ctx, func(tx domain.LedgerTx) error {
		pending, err := tx.ListPendingPayouts(ctx, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(pending) != 1 || pending[0].ID != "p1" {
			t.Fatalf("pending = %+v", pending)
		}
		return nil
	})
}

func TestListSettledBefore(t *testing.T) {
	s := New()
	ctx := context.Background()
	settledAt := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)

	err := s.Update(ctx, func(tx domain.LedgerTx) error {
		for i := 0; i < 3; i++ {
			m := testMarket()
			if i < 2 {
				w := 0
				at := settledAt.Add(time.Duration(i) * 24 * time.Hour)
				m.Status = domain.MarketStatusSettled
				m.WinningOption = &w
				m.SettledAt = &at
			}
			if _, err := tx.CreateMarket(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	_ = s.View(ctx, func(tx domain.LedgerTx) error {
		got, err := tx.ListSettledBefore(ctx, settledAt.Add(time.Hour), 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ID != 1 {
			t.Fatalf("settled before = %+v", got)
		}
		all, err := tx.ListMarkets(ctx, domain.ListOpts{Limit: 2})
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 2 || all[0].ID != 3 {
			t.Fatalf("list newest first = %+v", all)
		}
		return nil
	})
}
