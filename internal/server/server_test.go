package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/poolbet/internal/domain"
	"github.com/alanyoungcy/poolbet/internal/server/handler"
	"github.com/alanyoungcy/poolbet/internal/server/middleware"
	"github.com/alanyoungcy/poolbet/internal/service"
	"github.com/alanyoungcy/poolbet/internal/store/memory"
	"github.com/alanyoungcy/poolbet/internal/transfer"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestServer(t *testing.T, apiKey string) (*httptest.Server, *clock) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	deps := service.Deps{Store: memory.New(), Now: clk.Now, Logger: logger}

	registry := service.NewMarketRegistry(deps, service.DefaultRegistryConfig())
	bets := service.NewBettingLedger(deps, 10)
	settlement := service.NewSettlementEngine(deps)
	payouts := service.NewPayoutCalculator(deps, transfer.NewLogTransferrer(logger), 0)

	srv := NewServer(Config{APIKey: apiKey}, Handlers{
		Health:     handler.NewHealthHandler(nil, logger),
		Markets:    handler.NewMarketHandler(registry, nil, logger),
		Bets:       handler.NewBetHandler(bets, logger),
		Settlement: handler.NewSettlementHandler(settlement, payouts, logger),
	}, nil, nil, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, clk
}

func do(t *testing.T, ts *httptest.Server, method, path, principal string, body any) (int, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	if principal != "" {
		req.Header.Set(middleware.PrincipalHeader, principal)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	out := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: decode: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func TestMarketLifecycle(t *testing.T) {
	ts, clk := newTestServer(t, "")

	status, body := do(t, ts, http.MethodPost, "/api/markets", "alice", map[string]any{
		"title":    "Will it rain?",
		"options":  []string{"Yes", "No"},
		"odds":     []uint64{150, 250},
		"duration": 1,
	})
	if status != http.StatusCreated {
		t.Fatalf("create: %d %v", status, body)
	}
	if body["market_id"] != float64(1) {
		t.Fatalf("market_id = %v", body["market_id"])
	}

	if status, body = do(t, ts, http.MethodPost, "/api/markets/1/bets", "bob", map[string]any{"option": 0, "amount": 600}); status != http.StatusOK {
		t.Fatalf("bob bet: %d %v", status, body)
	}
	if status, body = do(t, ts, http.MethodPost, "/api/markets/1/bets", "carol", map[string]any{"option": 1, "amount": 400}); status != http.StatusOK {
		t.Fatalf("carol bet: %d %v", status, body)
	}

	status, body = do(t, ts, http.MethodGet, "/api/markets/1", "", nil)
	if status != http.StatusOK || body["total_pool"] != float64(1000) {
		t.Fatalf("get market: %d %v", status, body)
	}

	// Too early, then the wrong caller, then the creator.
	if status, _ = do(t, ts, http.MethodPost, "/api/markets/1/settle", "alice", map[string]any{"winning_option": 0}); status != http.StatusConflict {
		t.Fatalf("early settle status = %d", status)
	}
	clk.Advance(2 * time.Hour)
	if status, _ = do(t, ts, http.MethodPost, "/api/markets/1/settle", "bob", map[string]any{"winning_option": 0}); status != http.StatusForbidden {
		t.Fatalf("non-creator settle status = %d", status)
	}
	if status, body = do(t, ts, http.MethodPost, "/api/markets/1/settle", "alice", map[string]any{"winning_option": 0}); status != http.StatusOK {
		t.Fatalf("settle: %d %v", status, body)
	}

	status, body = do(t, ts, http.MethodPost, "/api/markets/1/claim", "bob", nil)
	if status != http.StatusOK {
		t.Fatalf("claim: %d %v", status, body)
	}
	if body["amount"] != float64(1000) || body["status"] != string(domain.PayoutStatusCompleted) {
		t.Fatalf("claim body = %v", body)
	}
	if status, _ = do(t, ts, http.MethodPost, "/api/markets/1/claim", "bob", nil); status != http.StatusConflict {
		t.Fatalf("second claim status = %d", status)
	}

	status, body = do(t, ts, http.MethodGet, "/api/markets/1/positions/bob", "", nil)
	if status != http.StatusOK || body["claimed"] != true {
		t.Fatalf("position: %d %v", status, body)
	}

	status, body = do(t, ts, http.MethodGet, "/api/markets/1/payouts", "", nil)
	if status != http.StatusOK {
		t.Fatalf("payouts: %d %v", status, body)
	}
	if list, _ := body["payouts"].([]any); len(list) != 1 {
		t.Fatalf("payouts = %v", body["payouts"])
	}

	status, body = do(t, ts, http.MethodGet, "/api/markets/count", "", nil)
	if status != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("count: %d %v", status, body)
	}
}

func TestErrorMapping(t *testing.T) {
	ts, _ := newTestServer(t, "")

	tests := []struct {
		name      string
		method    string
		path      string
		principal string
		body      any
		want      int
	}{
		{"missing principal", http.MethodPost, "/api/markets", "", map[string]any{"title": "x"}, http.StatusUnauthorized},
		{"unknown market", http.MethodGet, "/api/markets/42", "", nil, http.StatusNotFound},
		{"bad id", http.MethodGet, "/api/markets/abc", "", nil, http.StatusBadRequest},
		{"options odds mismatch", http.MethodPost, "/api/markets", "alice", map[string]any{
			"title": "t", "options": []string{"a", "b"}, "odds": []uint64{150}, "duration": 1,
		}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/markets", "alice", map[string]any{"nope": 1}, http.StatusBadRequest},
		{"bet on unknown market", http.MethodPost, "/api/markets/7/bets", "bob", map[string]any{"option": 0, "amount": 100}, http.StatusNotFound},
		{"claim unknown market", http.MethodPost, "/api/markets/7/claim", "bob", nil, http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, body := do(t, ts, tc.method, tc.path, tc.principal, tc.body)
			if status != tc.want {
				t.Fatalf("status = %d, want %d (%v)", status, tc.want, body)
			}
			if _, ok := body["error"]; !ok {
				t.Fatalf("no error message in %v", body)
			}
		})
	}
}

func TestAPIKeyLeavesHealthOpen(t *testing.T) {
	ts, _ := newTestServer(t, "secret")

	if status, _ := do(t, ts, http.MethodGet, "/api/health", "", nil); status != http.StatusOK {
		t.Fatalf("health status = %d", status)
	}
	if status, _ := do(t, ts, http.MethodGet, "/api/markets", "", nil); status != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list status = %d", status)
	}
}
