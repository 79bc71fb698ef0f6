package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

const defaultMarketTTL = 5 * time.Minute

// MarketCache implements domain.MarketCache with one JSON-serialized record
// per open market.
//
// Key schema:
//
//	{prefix}market:{id} - hash with field "data" containing JSON
//
// Entries are written after a Create commits and deleted after a Cancel or
// Exchange commits; the TTL bounds how long a missed invalidation can serve a
// closed market.
type MarketCache struct {
	c   *Client
	rdb *redis.Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache backed by the given Client. A zero ttl
// selects the default of five minutes.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = defaultMarketTTL
	}
	return &MarketCache{c: c, rdb: c.Underlying(), ttl: ttl}
}

func (mc *MarketCache) key(id domain.Address) string { return mc.c.Key("market:" + id.String()) }

// Set stores an open market.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", market.ID, err)
	}

	key := mc.key(market.ID)
	pipe := mc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, mc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %s: %w", market.ID, err)
	}
	return nil
}

// Get returns domain.ErrNotFound on a cache miss.
func (mc *MarketCache) Get(ctx context.Context, id domain.Address) (domain.Market, error) {
	data, err := mc.rdb.HGet(ctx, mc.key(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", id, err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", id, err)
	}
	return market, nil
}

// Invalidate removes a market from the cache.
func (mc *MarketCache) Invalidate(ctx context.Context, id domain.Address) error {
	if err := mc.rdb.Del(ctx, mc.key(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
