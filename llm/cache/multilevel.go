package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/llmguard/llm"
)

const redisKeyPrefix = "llmguard:response_cache:"

// MultiLevelCache layers a Redis tier behind a local ResponseCache so
// identical requests from sibling processes can share responses. The local
// tier remains authoritative for TTL and eviction; Redis failures are
// bookkeeping failures and degrade to local-only behavior rather than
// propagating.
type MultiLevelCache struct {
	local    *ResponseCache
	rdb      *redis.Client
	redisTTL time.Duration
	logger   *zap.Logger
}

// NewMultiLevel wires a local cache with an optional Redis client. A nil
// rdb yields a purely local cache.
func NewMultiLevel(local *ResponseCache, rdb *redis.Client, redisTTL time.Duration, logger *zap.Logger) *MultiLevelCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if redisTTL <= 0 {
		redisTTL = time.Hour
	}
	return &MultiLevelCache{
		local:    local,
		rdb:      rdb,
		redisTTL: redisTTL,
		logger:   logger.With(zap.String("component", "multilevel_cache")),
	}
}

// Local exposes the local tier for direct option updates.
func (c *MultiLevelCache) Local() *ResponseCache { return c.local }

// Get checks the local tier first, then Redis. A Redis hit backfills the
// local tier.
func (c *MultiLevelCache) Get(ctx context.Context, key any) (*llm.GenerateResponse, bool) {
	if resp, ok := c.local.Get(key); ok {
		return resp, true
	}
	if c.rdb == nil {
		return nil, false
	}

	data, err := c.rdb.Get(ctx, redisKeyPrefix+normalizeKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis get failed", zap.Error(err))
		}
		return nil, false
	}

	var resp llm.GenerateResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Warn("discarding malformed redis cache entry", zap.Error(err))
		return nil, false
	}
	c.local.Set(key, &resp, 0)
	return &resp, true
}

// Set writes both tiers. The Redis write is best effort.
func (c *MultiLevelCache) Set(ctx context.Context, key any, value *llm.GenerateResponse, ttl time.Duration) {
	c.local.Set(key, value, ttl)
	if c.rdb == nil {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, redisKeyPrefix+normalizeKey(key), data, c.redisTTL).Err(); err != nil {
		c.logger.Warn("redis set failed", zap.Error(err))
	}
}

// Clear drops the local tier and deletes the Redis namespace.
func (c *MultiLevelCache) Clear(ctx context.Context) {
	c.local.Clear()
	if c.rdb == nil {
		return
	}
	iter := c.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Warn("redis delete failed", zap.Error(err))
		}
	}
}
