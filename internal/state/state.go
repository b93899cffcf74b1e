// Package state implements component J, the external key-value State
// Store, backed by Redis (github.com/redis/go-redis/v9, grounded on
// koshedutech-binance-trading-app's go.mod — the only Redis usage in the
// retrieval pack). The teacher repo has no equivalent; adapter/token_storage.go's
// FileTokenStorage is the closest analogue (file-based, single-key
// save/load/delete) and is generalized here into a networked KV store
// with the three fixed key shapes from spec §6.
package state

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	KeyRefreshToken   = "saxotrader:refresh_token"
	KeyPositionPrefix = "saxotrader:position:"
	KeyActiveUniverse = "saxotrader:active_universe"
)

// RedisStore implements ports.StateStore.
type RedisStore struct {
	client *redis.Client
}

// New connects to Redis using a redis:// URL (REDIS_URL env var).
func New(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("state get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("state set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("state delete %s: %w", key, err)
	}
	return nil
}

// Keys returns all keys matching a glob pattern (used on startup to
// rehydrate `saxotrader:position:*`).
func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("state keys %s: %w", pattern, err)
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// PositionKey builds the `saxotrader:position:{uic}` key.
func PositionKey(uic int64) string {
	return fmt.Sprintf("%s%d", KeyPositionPrefix, uic)
}
