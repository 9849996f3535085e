package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maternal-triage-engine/internal/domain"
)

const defaultKeyPrefix = "triage:verdict:"

// RedisStore keeps verdicts in Redis with a server-side expiry per key.
type RedisStore struct {
	redis  *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore connects to the Redis instance named by config.RedisURL.
func NewRedisStore(ctx context.Context, config domain.CacheConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreFromClient(client, config.KeyPrefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{redis: client, prefix: prefix, now: time.Now}
}

// Get returns the verdict stored under key, or domain.ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) (*domain.RiskVerdict, error) {
	redisKey := s.prefix + key

	val, err := s.redis.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read verdict: %w", domain.ErrStoreFailure, err)
	}

	e, err := decodeEntry(val)
	if err != nil {
		// Remove corrupted entry
		s.redis.Del(ctx, redisKey)
		return nil, err
	}
	if e.expired(s.now()) {
		s.redis.Del(ctx, redisKey)
		return nil, domain.ErrNotFound
	}
	return e.Verdict, nil
}

// Put stores verdict under key for ttl.
func (s *RedisStore) Put(ctx context.Context, key string, verdict *domain.RiskVerdict, ttl time.Duration) error {
	data, err := encodeEntry(verdict, ttl, s.now())
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: failed to write verdict: %w", domain.ErrStoreFailure, err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.redis.Close()
}
