package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type stubSender struct {
	name  string
	err   error
	calls []string
}

func (s *stubSender) Send(_ context.Context, title, _ string) error {
	s.calls = append(s.calls, title)
	return s.err
}

func (s *stubSender) Name() string { return s.name }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, []string{"market_settled", " "}, slog.New(slog.DiscardHandler))

	if err := n.Notify(context.Background(), "bet_placed", "ignored", ""); err != nil {
		t.Fatal(err)
	}
	if err := n.Notify(context.Background(), "market_settled", "Market 1 settled", ""); err != nil {
		t.Fatal(err)
	}
	if len(s.calls) != 1 || s.calls[0] != "Market 1 settled" {
		t.Fatalf("calls = %v", s.calls)
	}
}

func TestNotifierJoinsFailures(t *testing.T) {
	boom := errors.New("boom")
	bad := &stubSender{name: "bad", err: boom}
	good := &stubSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, slog.New(slog.DiscardHandler))

	err := n.Notify(context.Background(), "payout_failed", "t", "m")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if len(good.calls) != 1 {
		t.Fatal("failure stopped delivery to later senders")
	}
	if !n.Enabled() || NewNotifier(nil, nil, slog.New(slog.DiscardHandler)).Enabled() {
		t.Fatal("Enabled")
	}
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.apiBase = srv.URL
	if err := s.Send(context.Background(), "Settled", "market 3"); err != nil {
		t.Fatal(err)
	}
	if path != "/bottok/sendMessage" || got["chat_id"] != "42" || got["text"] != "*Settled*\nmarket 3" {
		t.Fatalf("path %q body %v", path, got)
	}
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("err = %v", err)
	}
}
