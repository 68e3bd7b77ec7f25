package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "llmguard:session:"

// RedisStore is the hot session backend. Expiry is delegated to Redis key
// TTLs, refreshed on every Save.
type RedisStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore creates a Redis-backed store. ttl < 0 selects the
// default; ttl == 0 persists keys without expiry.
func NewRedisStore(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if ttl < 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "session_redis_store")),
	}
}

func (s *RedisStore) key(id string) string { return redisKeyPrefix + id }

func (s *RedisStore) Load(ctx context.Context, id string) (*SessionData, error) {
	raw, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis get session %s: %w", id, err)
	}

	var data SessionData
	if err := json.Unmarshal(raw, &data); err != nil {
		s.logger.Warn("malformed session record, treating as absent",
			zap.String("session", id), zap.Error(err))
		return nil, ErrSessionNotFound
	}
	return &data, nil
}

func (s *RedisStore) Save(ctx context.Context, data *SessionData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", data.ID, err)
	}
	if err := s.rdb.Set(ctx, s.key(data.ID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session %s: %w", data.ID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("redis del session %s: %w", id, err)
	}
	return nil
}

// Cleanup is a no-op: Redis evicts expired keys itself.
func (s *RedisStore) Cleanup(ctx context.Context) (int, error) {
	return 0, nil
}
