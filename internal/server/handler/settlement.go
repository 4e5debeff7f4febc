package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

// SettlementEngine is the part of service.SettlementEngine the handlers use.
type SettlementEngine interface {
	Settle(ctx context.Context, marketID uint64, winningOption int, caller domain.Principal) (domain.Market, error)
}

// PayoutCalculator is the part of service.PayoutCalculator the handlers use.
type PayoutCalculator interface {
	Claim(ctx context.Context, marketID uint64, bettor domain.Principal) (domain.Payout, error)
	Payouts(ctx context.Context, marketID uint64) ([]domain.Payout, error)
}

// SettlementHandler serves settlement and claim endpoints.
type SettlementHandler struct {
	settlement SettlementEngine
	payouts    PayoutCalculator
	logger     *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(settlement SettlementEngine, payouts PayoutCalculator, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{
		settlement: settlement,
		payouts:    payouts,
		logger:     logger.With(slog.String("handler", "settlement")),
	}
}

type settleRequest struct {
	WinningOption *int `json:"winning_option"`
}

// Settle resolves a market; only its creator may call it.
// POST /api/markets/{id}/settle
func (h *SettlementHandler) Settle(w http.ResponseWriter, r *http.Request) {
	caller, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	var req settleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.WinningOption == nil {
		writeError(w, http.StatusBadRequest, "winning_option is required")
		return
	}

	m, err := h.settlement.Settle(r.Context(), id, *req.WinningOption, caller)
	if err != nil {
		writeLedgerError(w, r, h.logger, "settle market", err)
		return
	}
	writeJSON(w, http.StatusOK, newMarketView(m))
}

type claimResponse struct {
	domain.Payout
	AmountDisplay string `json:"amount_display"`
}

// Claim closes the caller's position and returns the payout. A payout whose
// transfer is still pending answers 202.
// POST /api/markets/{id}/claim
func (h *SettlementHandler) Claim(w http.ResponseWriter, r *http.Request) {
	bettor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := marketID(w, r)
	if !ok {
		return
	}

	p, err := h.payouts.Claim(r.Context(), id, bettor)
	if err != nil {
		writeLedgerError(w, r, h.logger, "claim winnings", err)
		return
	}
	status := http.StatusOK
	if p.Status == domain.PayoutStatusPending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, claimResponse{Payout: p, AmountDisplay: domain.FormatAmount(p.Amount)})
}

// ListPayouts returns every payout record of a market.
// GET /api/markets/{id}/payouts
func (h *SettlementHandler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	payouts, err := h.payouts.Payouts(r.Context(), id)
	if err != nil {
		writeLedgerError(w, r, h.logger, "list payouts", err)
		return
	}
	if payouts == nil {
		payouts = []domain.Payout{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"market_id": id, "payouts": payouts})
}
