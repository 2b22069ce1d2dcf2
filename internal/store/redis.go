package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/ephemera/internal/metrics"
	"github.com/eldtechnologies/ephemera/internal/models"
)

// RedisStore handles Redis operations for verdict caching and rate limiting.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying client for the rate limiter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// verdictKey returns the key for a cached scan verdict.
func verdictKey(key string) string {
	return fmt.Sprintf("verdict:%s", key)
}

// GetVerdict returns a cached scan result. Any Redis failure is a miss.
func (s *RedisStore) GetVerdict(ctx context.Context, key string) (*models.ScanResult, bool) {
	start := time.Now()
	data, err := s.client.Get(ctx, verdictKey(key)).Bytes()
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, false
	}

	var result models.ScanResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false
	}
	return &result, true
}

// PutVerdict caches a scan result with a TTL.
func (s *RedisStore) PutVerdict(ctx context.Context, key string, result *models.ScanResult, ttl time.Duration) error {
	if result == nil {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	start := time.Now()
	err = s.client.Set(ctx, verdictKey(key), data, ttl).Err()
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
	return err
}
