package redis

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

func TestMarketKey(t *testing.T) {
	if got := marketKey(42); got != "ledger:market:42" {
		t.Fatalf("marketKey = %q", got)
	}
	if got := lockKey(marketKey(42)); got != "lock:ledger:market:42" {
		t.Fatalf("lockKey = %q", got)
	}
}

func TestDecodeMarket(t *testing.T) {
	m := domain.Market{
		ID:          7,
		Title:       "Final score",
		Options:     []string{"Home", "Away"},
		Odds:        []uint64{150, 250},
		OptionPools: []uint64{2_000_000, 1_000_000},
		TotalPool:   3_000_000,
		Creator:     "alice",
		EndTime:     time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
		Status:      domain.MarketStatusActive,
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}

	got, err := decodeMarket(7, data)
	if err != nil {
		t.Fatalf("decodeMarket: %v", err)
	}
	if got.TotalPool != m.TotalPool || got.Options[1] != "Away" || !got.EndTime.Equal(m.EndTime) {
		t.Fatalf("decoded = %+v", got)
	}

	if _, err := decodeMarket(8, data); !errors.Is(err, domain.ErrCorrupt) {
		t.Fatalf("id mismatch err = %v", err)
	}

	m.TotalPool = 1
	bad, _ := json.Marshal(m)
	if _, err := decodeMarket(7, bad); !errors.Is(err, domain.ErrCorrupt) {
		t.Fatalf("pool mismatch err = %v", err)
	}
}

func TestPayloadBytes(t *testing.T) {
	if b, ok := payloadBytes(map[string]any{"payload": "x"}); !ok || string(b) != "x" {
		t.Fatalf("string payload = %q %v", b, ok)
	}
	if _, ok := payloadBytes(map[string]any{"other": "x"}); ok {
		t.Fatal("missing payload accepted")
	}
	if !hasPattern("ledger:*") || hasPattern("ledger:bets") {
		t.Fatal("hasPattern")
	}
}
