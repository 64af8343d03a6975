package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store remembers broker message ids so redelivered messages are handled
// once. The relay redelivers whenever a confirm is lost, so every consumer
// checks here before acting.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) Key(messageID string) string {
	return fmt.Sprintf("idem:msg:%s", messageID)
}

// Seen reports whether the key has been marked. It never writes: a message
// is only marked after its handler succeeds, so a failed-and-requeued
// delivery stays unmarked and the redelivery is handled.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark records the key as handled. The mark expires after the TTL; by then
// the outbox retention sweep has removed the source row, so no further
// redelivery of that id can occur.
func (s *Store) Mark(ctx context.Context, key string) error {
	return s.rdb.Set(ctx, key, "1", s.ttl).Err()
}
