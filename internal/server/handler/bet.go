package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

// BettingLedger is the part of service.BettingLedger the handlers use.
type BettingLedger interface {
	PlaceBet(ctx context.Context, marketID uint64, option int, bettor domain.Principal, amount uint64) (domain.UserPosition, error)
	GetUserPosition(ctx context.Context, marketID uint64, bettor domain.Principal) (domain.UserPosition, error)
}

// BetHandler serves betting endpoints.
type BetHandler struct {
	bets   BettingLedger
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(bets BettingLedger, logger *slog.Logger) *BetHandler {
	return &BetHandler{bets: bets, logger: logger.With(slog.String("handler", "bets"))}
}

type placeBetRequest struct {
	Option *int   `json:"option"`
	Amount uint64 `json:"amount"`
}

// PlaceBet records a bet by the caller. The stake is assumed to be already
// in custody.
// POST /api/markets/{id}/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	bettor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	var req placeBetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Option == nil {
		writeError(w, http.StatusBadRequest, "option is required")
		return
	}

	pos, err := h.bets.PlaceBet(r.Context(), id, *req.Option, bettor, req.Amount)
	if err != nil {
		writeLedgerError(w, r, h.logger, "place bet", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// GetPosition returns a bettor's position; a bettor who never bet gets an
// all-zero position.
// GET /api/markets/{id}/positions/{bettor}
func (h *BetHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	bettor := domain.Principal(r.PathValue("bettor"))
	if bettor == "" {
		writeError(w, http.StatusBadRequest, "missing bettor")
		return
	}
	pos, err := h.bets.GetUserPosition(r.Context(), id, bettor)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}
