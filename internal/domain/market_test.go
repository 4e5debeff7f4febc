package domain

import "testing"

func TestRevisionOrdersMutations(t *testing.T) {
	w := 0
	base := Market{ID: 1, Status: MarketStatusActive, TotalPool: 9_000_000}
	bigger := base
	bigger.TotalPool = 10_000_000
	settled := base
	settled.Status = MarketStatusSettled
	settled.WinningOption = &w

	if !(base.Revision() < bigger.Revision()) {
		t.Fatalf("bet did not advance revision: %s >= %s", base.Revision(), bigger.Revision())
	}
	if !(bigger.Revision() < settled.Revision()) {
		t.Fatalf("settle did not advance revision: %s >= %s", bigger.Revision(), settled.Revision())
	}

	// An ended market is stored as active; only settling changes the status.
	ended := base
	ended.Status = MarketStatusEnded
	if ended.Revision() != base.Revision() {
		t.Fatalf("ended revision = %s, want %s", ended.Revision(), base.Revision())
	}

	full := Market{Status: MarketStatusActive, TotalPool: MaxAmount}
	if !(full.Revision() < settled.Revision()) {
		t.Fatal("largest active pool ordered after a settled market")
	}
}
