package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

// RegistryConfig bounds market creation parameters.
type RegistryConfig struct {
	// DurationUnit converts the integer duration of CreateMarket into time.
	DurationUnit time.Duration
	MaxOptions   int
	MaxTitleLen  int
	MaxOptionLen int
}

// DefaultRegistryConfig returns the limits used when none are configured.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		DurationUnit: time.Hour,
		MaxOptions:   32,
		MaxTitleLen:  256,
		MaxOptionLen: 64,
	}
}

// MarketRegistry creates markets and answers read queries about them.
type MarketRegistry struct {
	ledger
	cfg RegistryConfig
}

// NewMarketRegistry creates a MarketRegistry. Zero fields of cfg fall back to
// DefaultRegistryConfig.
func NewMarketRegistry(d Deps, cfg RegistryConfig) *MarketRegistry {
	def := DefaultRegistryConfig()
	if cfg.DurationUnit <= 0 {
		cfg.DurationUnit = def.DurationUnit
	}
	if cfg.MaxOptions <= 0 {
		cfg.MaxOptions = def.MaxOptions
	}
	if cfg.MaxTitleLen <= 0 {
		cfg.MaxTitleLen = def.MaxTitleLen
	}
	if cfg.MaxOptionLen <= 0 {
		cfg.MaxOptionLen = def.MaxOptionLen
	}
	return &MarketRegistry{ledger: newLedger(d, "market_registry"), cfg: cfg}
}

// CreateMarket validates the parameters and stores a new Active market owned
// by caller, returning its id. duration is counted in DurationUnit.
func (r *MarketRegistry) CreateMarket(
	ctx context.Context,
	caller domain.Principal,
	title string,
	options []string,
	odds []uint64,
	duration uint64,
) (uint64, error) {
	m, err := r.newMarket(caller, title, options, odds, duration)
	if err != nil {
		return 0, err
	}

	unlock, err := r.lock(ctx, sequenceLockKey)
	if err != nil {
		return 0, fmt.Errorf("market_registry: create market: %w", err)
	}
	defer unlock()

	var id uint64
	err = r.Store.Update(ctx, func(tx domain.LedgerTx) error {
		var err error
		id, err = tx.CreateMarket(ctx, m)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("market_registry: create market: %w", err)
	}

	r.Logger.InfoContext(ctx, "market created",
		slog.Uint64("market_id", id),
		slog.String("creator", string(caller)),
		slog.Int("options", len(m.Options)),
		slog.Time("end_time", m.EndTime),
	)
	r.emit(ctx, domain.LedgerEvent{
		Type:     domain.EventMarketCreated,
		MarketID: id,
		Actor:    caller,
		At:       m.CreatedAt,
	})
	return id, nil
}

func (r *MarketRegistry) newMarket(
	caller domain.Principal,
	title string,
	options []string,
	odds []uint64,
	duration uint64,
) (domain.Market, error) {
	if strings.TrimSpace(string(caller)) == "" {
		return domain.Market{}, domain.ErrMissingPrincipal
	}
	if len(options) < 2 {
		return domain.Market{}, domain.ErrTooFewOptions
	}
	if len(options) > r.cfg.MaxOptions {
		return domain.Market{}, fmt.Errorf("%w: %d > %d", domain.ErrTooManyOptions, len(options), r.cfg.MaxOptions)
	}
	if len(options) != len(odds) {
		return domain.Market{}, domain.ErrOptionsOddsMismatch
	}
	for _, o := range odds {
		if o < domain.MinOdds {
			return domain.Market{}, domain.ErrOddsTooLow
		}
	}
	if duration == 0 {
		return domain.Market{}, domain.ErrInvalidDuration
	}
	if duration > uint64(math.MaxInt64/int64(r.cfg.DurationUnit)) {
		return domain.Market{}, fmt.Errorf("%w: duration %d out of range", domain.ErrInvalidDuration, duration)
	}

	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > r.cfg.MaxTitleLen {
		return domain.Market{}, domain.ErrInvalidTitle
	}
	labels := make([]string, len(options))
	seen := make(map[string]bool, len(options))
	for i, o := range options {
		o = strings.TrimSpace(o)
		if o == "" || utf8.RuneCountInString(o) > r.cfg.MaxOptionLen {
			return domain.Market{}, fmt.Errorf("%w: option %d", domain.ErrInvalidOptionLabel, i)
		}
		if seen[o] {
			return domain.Market{}, fmt.Errorf("%w: duplicate option %q", domain.ErrInvalidOptionLabel, o)
		}
		seen[o] = true
		labels[i] = o
	}

	now := r.Now()
	return domain.Market{
		Title:       title,
		Options:     labels,
		Odds:        append([]uint64(nil), odds...),
		OptionPools: make([]uint64, len(labels)),
		Creator:     caller,
		EndTime:     now.Add(time.Duration(duration) * r.cfg.DurationUnit),
		Status:      domain.MarketStatusActive,
		CreatedAt:   now,
	}, nil
}

// GetMarketInfo returns a snapshot of market id with its status derived at
// the current time.
func (r *MarketRegistry) GetMarketInfo(ctx context.Context, id uint64) (domain.Market, error) {
	if id == 0 {
		return domain.Market{}, domain.ErrMarketNotFound
	}

	m, err := r.cachedMarket(ctx, id)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = m.StatusAt(r.Now())
	return m, nil
}

func (r *MarketRegistry) cachedMarket(ctx context.Context, id uint64) (domain.Market, error) {
	if r.Cache != nil {
		if m, err := r.Cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}

	var m domain.Market
	err := r.Store.View(ctx, func(tx domain.LedgerTx) error {
		var err error
		m, err = tx.GetMarket(ctx, id)
		return err
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_registry: get market %d: %w", id, err)
	}

	if r.Cache != nil {
		if cacheErr := r.Cache.Set(ctx, m); cacheErr != nil {
			r.Logger.WarnContext(ctx, "cache set failed",
				slog.Uint64("market_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return m, nil
}

// GetMarketCount returns the number of markets ever created.
func (r *MarketRegistry) GetMarketCount(ctx context.Context) (uint64, error) {
	var n uint64
	err := r.Store.View(ctx, func(tx domain.LedgerTx) error {
		var err error
		n, err = tx.MarketCount(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("market_registry: market count: %w", err)
	}
	return n, nil
}

// ListMarkets returns markets newest first with derived status.
func (r *MarketRegistry) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	var markets []domain.Market
	err := r.Store.View(ctx, func(tx domain.LedgerTx) error {
		var err error
		markets, err = tx.ListMarkets(ctx, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("market_registry: list markets: %w", err)
	}
	now := r.Now()
	for i := range markets {
		markets[i].Status = markets[i].StatusAt(now)
	}
	return markets, nil
}
