package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/metal-price-cache/internal/config"
	"github.com/metal-price-cache/internal/types"
	"github.com/redis/go-redis/v9"
)

// RedisSnapshotKey holds the JSON-encoded snapshot. It carries no TTL;
// freshness is decided from fetchedAt, not by expiry.
const RedisSnapshotKey = "prices:snapshot"

// RedisCache wraps the Redis client
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis connection and verifies it with a ping
func NewRedisCache(cfg *config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 1,
		MaxRetries:   2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Ping checks if Redis is reachable
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// RedisSnapshotStore keeps the snapshot under a single Redis key
type RedisSnapshotStore struct {
	cache *RedisCache
	key   string
}

// NewRedisSnapshotStore creates a Redis-backed store using RedisSnapshotKey
func NewRedisSnapshotStore(cache *RedisCache) *RedisSnapshotStore {
	return &RedisSnapshotStore{cache: cache, key: RedisSnapshotKey}
}

// Name returns the store name
func (s *RedisSnapshotStore) Name() string {
	return "redis"
}

// Load reads the snapshot key. A missing key is not an error.
func (s *RedisSnapshotStore) Load(ctx context.Context) (*types.PriceSnapshot, error) {
	data, err := s.cache.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get %s: %w", s.key, err)
	}
	return decodeSnapshot(data)
}

// Save overwrites the snapshot key
func (s *RedisSnapshotStore) Save(ctx context.Context, snapshot *types.PriceSnapshot) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	if err := s.cache.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", s.key, err)
	}
	return nil
}
