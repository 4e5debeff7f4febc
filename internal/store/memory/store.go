// Package memory implements domain.LedgerStore in process memory. Writers are
// serialized by a single mutex and stage their changes in an overlay that is
// applied only when the transaction function succeeds.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

type positionKey struct {
	marketID uint64
	bettor   domain.Principal
}

// Store is an in-memory ledger store.
type Store struct {
	mu        sync.RWMutex
	seq       uint64
	markets   map[uint64]domain.Market
	positions map[positionKey]domain.UserPosition
	payouts   map[string]domain.Payout
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		markets:   make(map[uint64]domain.Market),
		positions: make(map[positionKey]domain.UserPosition),
		payouts:   make(map[string]domain.Payout),
	}
}

// Update runs fn with exclusive access and commits its writes on success.
func (s *Store) Update(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := newTx(s, true)
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.commit()
	return nil
}

// View runs fn against a consistent read-only snapshot.
func (s *Store) View(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(newTx(s, false))
}

// tx overlays staged writes on top of the committed maps.
type tx struct {
	s         *Store
	writable  bool
	seq       uint64
	markets   map[uint64]domain.Market
	positions map[positionKey]domain.UserPosition
	payouts   map[string]domain.Payout
}

func newTx(s *Store, writable bool) *tx {
	return &tx{
		s:         s,
		writable:  writable,
		seq:       s.seq,
		markets:   make(map[uint64]domain.Market),
		positions: make(map[positionKey]domain.UserPosition),
		payouts:   make(map[string]domain.Payout),
	}
}

func (t *tx) commit() {
	t.s.seq = t.seq
	for id, m := range t.markets {
		t.s.markets[id] = m
	}
	for k, p := range t.positions {
		t.s.positions[k] = p
	}
	for id, p := range t.payouts {
		t.s.payouts[id] = p
	}
}

func (t *tx) checkWritable() error {
	if !t.writable {
		return fmt.Errorf("memory: write in read-only transaction")
	}
	return nil
}

func (t *tx) MarketCount(_ context.Context) (uint64, error) {
	return t.seq, nil
}

func (t *tx) CreateMarket(_ context.Context, m domain.Market) (uint64, error) {
	if err := t.checkWritable(); err != nil {
		return 0, err
	}
	t.seq++
	m.ID = t.seq
	t.markets[m.ID] = m.Clone()
	return m.ID, nil
}

func (t *tx) market(id uint64) (domain.Market, bool) {
	if m, ok := t.markets[id]; ok {
		return m, true
	}
	m, ok := t.s.markets[id]
	return m, ok
}

func (t *tx) GetMarket(_ context.Context, id uint64) (domain.Market, error) {
	m, ok := t.market(id)
	if !ok {
		return domain.Market{}, domain.ErrMarketNotFound
	}
	return m.Clone(), nil
}

func (t *tx) UpdateMarket(_ context.Context, m domain.Market) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if _, ok := t.market(m.ID); !ok {
		return domain.ErrMarketNotFound
	}
	t.markets[m.ID] = m.Clone()
	return nil
}

func (t *tx) allMarkets() []domain.Market {
	out := make([]domain.Market, 0, int(t.seq))
	for id := t.seq; id >= 1; id-- {
		if m, ok := t.market(id); ok {
			out = append(out, m.Clone())
		}
	}
	return out
}

// ListMarkets returns markets newest first.
func (t *tx) ListMarkets(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	var out []domain.Market
	for _, m := range t.allMarkets() {
		if opts.Since != nil && m.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && m.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, m)
	}
	return page(out, opts), nil
}

func (t *tx) ListSettledBefore(_ context.Context, before time.Time, limit int) ([]domain.Market, error) {
	var out []domain.Market
	all := t.allMarkets()
	for i := len(all) - 1; i >= 0; i-- {
		m := all[i]
		if m.Status != domain.MarketStatusSettled || m.SettledAt == nil || !m.SettledAt.Before(before) {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (t *tx) position(k positionKey) (domain.UserPosition, bool) {
	if p, ok := t.positions[k]; ok {
		return p, true
	}
	p, ok := t.s.positions[k]
	return p, ok
}

func (t *tx) GetPosition(_ context.Context, marketID uint64, bettor domain.Principal) (domain.UserPosition, error) {
	p, ok := t.position(positionKey{marketID, bettor})
	if !ok {
		return domain.UserPosition{}, domain.ErrNoPosition
	}
	return p.Clone(), nil
}

func (t *tx) PutPosition(_ context.Context, p domain.UserPosition) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if _, ok := t.market(p.MarketID); !ok {
		return domain.ErrMarketNotFound
	}
	t.positions[positionKey{p.MarketID, p.Bettor}] = p.Clone()
	return nil
}

func (t *tx) ListPositions(_ context.Context, marketID uint64) ([]domain.UserPosition, error) {
	seen := make(map[positionKey]bool)
	var out []domain.UserPosition
	for _, src := range []map[positionKey]domain.UserPosition{t.positions, t.s.positions} {
		for k, p := range src {
			if k.marketID != marketID || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bettor < out[j].Bettor })
	return out, nil
}

func (t *tx) payout(id string) (domain.Payout, bool) {
	if p, ok := t.payouts[id]; ok {
		return p, true
	}
	p, ok := t.s.payouts[id]
	return p, ok
}

func (t *tx) allPayouts() []domain.Payout {
	seen := make(map[string]bool)
	var out []domain.Payout
	for _, src := range []map[string]domain.Payout{t.payouts, t.s.payouts} {
		for id, p := range src {
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (t *tx) CreatePayout(_ context.Context, p domain.Payout) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if _, ok := t.payout(p.ID); ok {
		return fmt.Errorf("memory: payout %s already exists", p.ID)
	}
	for _, existing := range t.allPayouts() {
		if existing.MarketID == p.MarketID && existing.Bettor == p.Bettor {
			return domain.ErrAlreadyClaimed
		}
	}
	t.payouts[p.ID] = p
	return nil
}

func (t *tx) GetPayout(_ context.Context, id string) (domain.Payout, error) {
	p, ok := t.payout(id)
	if !ok {
		return domain.Payout{}, fmt.Errorf("memory: payout %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (t *tx) UpdatePayout(_ context.Context, p domain.Payout) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if _, ok := t.payout(p.ID); !ok {
		return fmt.Errorf("memory: payout %s: %w", p.ID, domain.ErrNotFound)
	}
	t.payouts[p.ID] = p
	return nil
}

func (t *tx) ListPayouts(_ context.Context, marketID uint64) ([]domain.Payout, error) {
	var out []domain.Payout
	for _, p := range t.allPayouts() {
		if p.MarketID == marketID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *tx) ListPendingPayouts(_ context.Context, limit int) ([]domain.Payout, error) {
	var out []domain.Payout
	for _, p := range t.allPayouts() {
		if p.Status != domain.PayoutStatusPending {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

// Compile-time interface check.
var _ domain.LedgerStore = (*Store)(nil)
