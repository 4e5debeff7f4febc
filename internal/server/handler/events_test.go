package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

type fakeStream struct {
	gotAfter string
	gotCount int
	msgs     []domain.StreamMessage
}

func (f *fakeStream) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	f.gotAfter, f.gotCount = lastID, count
	return f.msgs, nil
}

func TestListEvents(t *testing.T) {
	stream := &fakeStream{msgs: []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"type":"market_created","market_id":1}`)},
		{ID: "2-0", Payload: []byte(`not json`)},
		{ID: "3-0", Payload: []byte(`{"type":"bet_placed","market_id":1}`)},
	}}
	h := NewEventHandler(stream, "ledger:events", slog.New(slog.DiscardHandler))

	rec := httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events?after=0-5&limit=2000", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if stream.gotAfter != "0-5" || stream.gotCount != 1000 {
		t.Fatalf("read after %q count %d", stream.gotAfter, stream.gotCount)
	}

	var body struct {
		Events []streamEvent `json:"events"`
		Next   string        `json:"next"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Events) != 2 || body.Next != "3-0" {
		t.Fatalf("body = %+v", body)
	}
}

func TestListEventsRejectsBadLimit(t *testing.T) {
	h := NewEventHandler(&fakeStream{}, "ledger:events", slog.New(slog.DiscardHandler))
	rec := httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events?limit=-1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrBetTooSmall, http.StatusBadRequest},
		{domain.ErrNotCreator, http.StatusForbidden},
		{domain.ErrMarketNotFound, http.StatusNotFound},
		{domain.ErrAlreadyClaimed, http.StatusConflict},
		{domain.ErrLockHeld, http.StatusLocked},
		{domain.ErrPoolMismatch, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
