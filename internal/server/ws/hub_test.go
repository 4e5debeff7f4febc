package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

type chanBus struct {
	ch      chan []byte
	pattern chan string
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.pattern <- channel
	return b.ch, nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestHubRelaysLedgerEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := &chanBus{ch: make(chan []byte, 4), pattern: make(chan string, 1)}
	hub := NewHub(bus, nil, slog.New(slog.DiscardHandler))
	go hub.Run(ctx)
	if got := <-bus.pattern; got != LedgerPattern {
		t.Fatalf("subscribed to %q", got)
	}

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello map[string]any
	if err := conn.ReadJSON(&hello); err != nil || hello["type"] != "hello" {
		t.Fatalf("hello = %v, %v", hello, err)
	}

	// Narrow the feed to market 2 and wait for the hub to apply it.
	if err := conn.WriteJSON(subscribeMsg{Action: "subscribe", Channels: []string{"ledger:bets"}, MarketID: 2}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	opt := 1
	for _, evt := range []domain.LedgerEvent{
		{Type: domain.EventBetPlaced, MarketID: 1, Actor: "bob", Option: &opt, Amount: 5},
		{Type: domain.EventBetPlaced, MarketID: 2, Actor: "carol", Option: &opt, Amount: 7},
	} {
		raw, _ := json.Marshal(evt)
		bus.ch <- raw
	}

	var env struct {
		Channel string             `json:"channel"`
		Event   domain.LedgerEvent `json:"event"`
	}
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if env.Channel != "ledger:bets" || env.Event.MarketID != 2 || env.Event.Amount != 7 {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example"})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if !check(req) {
		t.Fatal("request without origin rejected")
	}
	req.Header.Set("Origin", "https://evil.example")
	if check(req) {
		t.Fatal("foreign origin accepted")
	}
	req.Header.Set("Origin", "https://APP.example")
	if !check(req) {
		t.Fatal("allowed origin rejected")
	}
}

func httpHandler(h *Hub) http.Handler {
	return http.HandlerFunc(h.HandleWS)
}

func TestHelloQueuedBeforeRegister(t *testing.T) {
	hub := NewHub(&chanBus{}, nil, slog.New(slog.DiscardHandler))

	// Stand in for Run shutting down right after it accepts the client.
	queued := make(chan int, 1)
	go func() {
		c := <-hub.register
		queued <- len(c.send)
		close(hub.done)
		close(c.send)
	}()

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case n := <-queued:
		if n != 1 {
			t.Fatalf("send buffer at register = %d, want the hello", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("client never registered")
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var hello map[string]any
	if err := conn.ReadJSON(&hello); err != nil || hello["type"] != "hello" {
		t.Fatalf("hello = %v, %v", hello, err)
	}
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNoStatusReceived, websocket.CloseNormalClosure) {
		t.Fatalf("after shutdown err = %v, want close", err)
	}
}
