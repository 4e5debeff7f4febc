package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

// MarketRegistry is the part of service.MarketRegistry the handlers use.
type MarketRegistry interface {
	CreateMarket(ctx context.Context, caller domain.Principal, title string, options []string, odds []uint64, duration uint64) (uint64, error)
	GetMarketInfo(ctx context.Context, id uint64) (domain.Market, error)
	GetMarketCount(ctx context.Context) (uint64, error)
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
}

// AuditLister reads the audit log.
type AuditLister interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
	ListByMarket(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// MarketHandler serves market creation and read endpoints.
type MarketHandler struct {
	markets MarketRegistry
	audit   AuditLister
	now     func() time.Time
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler. audit may be nil, in which case
// the audit route answers 404.
func NewMarketHandler(markets MarketRegistry, audit AuditLister, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		audit:   audit,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With(slog.String("handler", "markets")),
	}
}

// marketView adds display strings to a market snapshot.
type marketView struct {
	domain.Market
	TotalPoolDisplay string   `json:"total_pool_display"`
	OddsDisplay      []string `json:"odds_display"`
}

func newMarketView(m domain.Market) marketView {
	v := marketView{
		Market:           m,
		TotalPoolDisplay: domain.FormatAmount(m.TotalPool),
		OddsDisplay:      make([]string, len(m.Odds)),
	}
	for i, o := range m.Odds {
		v.OddsDisplay[i] = domain.FormatOdds(o)
	}
	return v
}

type createMarketRequest struct {
	Title    string   `json:"title"`
	Options  []string `json:"options"`
	Odds     []uint64 `json:"odds"`
	Duration uint64   `json:"duration"`
}

// CreateMarket opens a new market owned by the caller.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req createMarketRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id, err := h.markets.CreateMarket(r.Context(), caller, req.Title, req.Options, req.Odds, req.Duration)
	if err != nil {
		writeLedgerError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"market_id": id})
}

// GetMarket returns a market snapshot with its status derived at read time.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	m, err := h.markets.GetMarketInfo(r.Context(), id)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, newMarketView(m))
}

// GetMarketCount returns the number of markets ever created.
// GET /api/markets/count
func (h *MarketHandler) GetMarketCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.markets.GetMarketCount(r.Context())
	if err != nil {
		writeLedgerError(w, r, h.logger, "count markets", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"count": n})
}

type listMarketsResponse struct {
	Markets []marketView `json:"markets"`
	Total   uint64       `json:"total"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// ListMarkets pages through markets, newest first.
// GET /api/markets?limit=50&offset=0&since=&until=
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	markets, err := h.markets.ListMarkets(r.Context(), opts)
	if err != nil {
		writeLedgerError(w, r, h.logger, "list markets", err)
		return
	}
	total, err := h.markets.GetMarketCount(r.Context())
	if err != nil {
		writeLedgerError(w, r, h.logger, "count markets", err)
		return
	}

	views := make([]marketView, len(markets))
	for i, m := range markets {
		views[i] = newMarketView(m)
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: views,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// ListAllAudit returns the whole audit log, newest first.
// GET /api/audit
func (h *MarketHandler) ListAllAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotFound, "audit log not enabled")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		writeLedgerError(w, r, h.logger, "list audit", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// ListAudit returns the audit trail of a market, newest first.
// GET /api/markets/{id}/audit
func (h *MarketHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotFound, "audit log not enabled")
		return
	}
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.markets.GetMarketInfo(r.Context(), id); err != nil {
		writeLedgerError(w, r, h.logger, "get market", err)
		return
	}
	entries, err := h.audit.ListByMarket(r.Context(), id, opts)
	if err != nil {
		writeLedgerError(w, r, h.logger, "list audit", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"market_id": id, "entries": entries})
}
