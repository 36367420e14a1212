package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/catalog-sdk/dispatch"
)

// RedisStore records completed event IDs as keys with a retention TTL.
// SetNX provides the atomic mark-if-absent; once the TTL lapses a very late
// redelivery would be reprocessed, so the retention window should exceed the
// event source's maximum redelivery horizon.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	retention time.Duration
}

// NewRedisStore creates a store with the given key prefix (typically the
// consumer name). retention <= 0 defaults to 7 days.
func NewRedisStore(client *redis.Client, keyPrefix string, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, retention: retention}
}

func (s *RedisStore) key(eventID string) string {
	return fmt.Sprintf("%s:completed:%s", s.keyPrefix, eventID)
}

func (s *RedisStore) IsCompleted(ctx context.Context, eventID string) (bool, error) {
	err := s.client.Get(ctx, s.key(eventID)).Err()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	return false, fmt.Errorf("idempotency: lookup %q: %w", eventID, err)
}

func (s *RedisStore) MarkCompleted(ctx context.Context, eventID string) (bool, error) {
	first, err := s.client.SetNX(ctx, s.key(eventID), "1", s.retention).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency: mark %q: %w", eventID, err)
	}
	return first, nil
}

var _ dispatch.IdempotencyStore = (*RedisStore)(nil)
