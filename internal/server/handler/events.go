package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

// StreamReader reads the durable ledger event stream.
type StreamReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// EventHandler replays committed ledger events so WebSocket clients can
// catch up after a reconnect.
type EventHandler struct {
	stream string
	reader StreamReader
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler reading stream.
func NewEventHandler(reader StreamReader, stream string, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		stream: stream,
		reader: reader,
		logger: logger.With(slog.String("handler", "events")),
	}
}

type streamEvent struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// ListEvents returns up to limit events recorded after the given stream id.
// GET /api/events?after=0&limit=100
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after := q.Get("after")
	if after == "" {
		after = "0"
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, 1000)
	}

	msgs, err := h.reader.StreamRead(r.Context(), h.stream, after, limit)
	if err != nil {
		writeLedgerError(w, r, h.logger, "read events", err)
		return
	}
	events := make([]streamEvent, 0, len(msgs))
	next := after
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		events = append(events, streamEvent{ID: m.ID, Event: m.Payload})
		next = m.ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "next": next})
}
