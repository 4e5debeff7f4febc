package redis

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/poolbet/internal/domain"
	"github.com/redis/go-redis/v9"
)

const defaultMarketTTL = time.Minute

//go:embed scripts/market_set.lua
var marketSetLua string

// MarketCache implements domain.MarketCache using Redis hashes holding the
// JSON-serialized stored Market record and its revision.
//
// Key schema:
//
//	ledger:market:{id} - hash {rev, data}
type MarketCache struct {
	rdb       *redis.Client
	ttl       time.Duration
	marketSet *redis.Script
}

// NewMarketCache creates a MarketCache backed by the given Client. A
// non-positive ttl falls back to one minute.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = defaultMarketTTL
	}
	return &MarketCache{
		rdb:       c.Underlying(),
		ttl:       ttl,
		marketSet: redis.NewScript(marketSetLua),
	}
}

func marketKey(id uint64) string { return "ledger:market:" + strconv.FormatUint(id, 10) }

// Set stores a Market snapshot with the configured TTL unless the cached
// entry already holds a later revision.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %d: %w", market.ID, err)
	}
	err = mc.marketSet.Run(
		ctx,
		mc.rdb,
		[]string{marketKey(market.ID)},
		market.Revision(),
		data,
		mc.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: set market %d: %w", market.ID, err)
	}
	return nil
}

// Get retrieves a Market by its ID from the cache.
// It returns domain.ErrNotFound when the key does not exist.
func (mc *MarketCache) Get(ctx context.Context, id uint64) (domain.Market, error) {
	data, err := mc.rdb.HGet(ctx, marketKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %d: %w", id, err)
	}
	return decodeMarket(id, data)
}

// Invalidate removes a Market from the cache.
func (mc *MarketCache) Invalidate(ctx context.Context, id uint64) error {
	if err := mc.rdb.Del(ctx, marketKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %d: %w", id, err)
	}
	return nil
}

// decodeMarket rejects snapshots that fail the ledger invariants so a
// corrupted entry falls through to the store.
func decodeMarket(id uint64, data []byte) (domain.Market, error) {
	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %d: %w", id, err)
	}
	if market.ID != id {
		return domain.Market{}, fmt.Errorf("redis: market %d: cached id %d: %w", id, market.ID, domain.ErrCorrupt)
	}
	if err := market.CheckInvariants(); err != nil {
		return domain.Market{}, fmt.Errorf("redis: market %d: %w", id, err)
	}
	return market, nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
