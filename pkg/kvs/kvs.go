// Package kvs provides a per-bot JSON key-value store backed by Redis.
// It holds small operational records shared by all server processes: rate
// windows and remote-provider sync metadata.
package kvs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrKeyNotFound is returned by Get when no value exists for the key.
var ErrKeyNotFound = errors.New("key not found")

// Store reads and writes JSON documents scoped to a bot.
type Store interface {
	// Get unmarshals the value stored under (botID, key) into out.
	// Returns ErrKeyNotFound when the key does not exist.
	Get(ctx context.Context, botID, key string, out any) error
	// Set marshals value and stores it under (botID, key).
	Set(ctx context.Context, botID, key string, value any) error
}

type redisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Store over an existing Redis client.
func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client}
}

func (s *redisStore) storageKey(botID, key string) string {
	return fmt.Sprintf("bot:%s:%s", botID, key)
}

func (s *redisStore) Get(ctx context.Context, botID, key string, out any) error {
	raw, err := s.client.Get(ctx, s.storageKey(botID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return ErrKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("kvs get %q: %w", key, err)
	}

	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("kvs unmarshal %q: %w", key, err)
	}
	return nil
}

func (s *redisStore) Set(ctx context.Context, botID, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kvs marshal %q: %w", key, err)
	}

	if err := s.client.Set(ctx, s.storageKey(botID, key), raw, 0).Err(); err != nil {
		return fmt.Errorf("kvs set %q: %w", key, err)
	}
	return nil
}

// Ensure redisStore implements Store at compile time.
var _ Store = (*redisStore)(nil)
