package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-identity-api/internal/config"
	"github.com/redis/go-redis/v9"
)

// Store is the cache store client consumed by the verification engine:
// TTL'd reads/writes, atomic increment, existence check, and an atomic
// check-then-delete via Remove's removed-count result.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes value under key. ttl <= 0 stores without expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Increment(ctx context.Context, key string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Remove deletes key and reports whether it existed. The server executes
	// DEL atomically, so a true result is single-use proof of presence.
	Remove(ctx context.Context, key string) (bool, error)
}

type store struct {
	client *redis.Client
}

// NewClient dials Redis with the configured address and credentials.
func NewClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// NewStore wraps a Redis client in the Store interface.
func NewStore(client *redis.Client) Store {
	return &store{client: client}
}

func (s *store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return val, true, nil
}

func (s *store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *store) Increment(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	return n, nil
}

func (s *store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (s *store) Remove(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis del: %w", err)
	}
	return n > 0, nil
}
