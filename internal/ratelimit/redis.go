package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"truxe/security-core/internal/kv"
)

// incrScript increments the counter and sets its expiry only on first
// increment, so the window boundary never slides.
var incrScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// RedisCounterStore implements CounterStore on Redis with TTL-backed windows.
type RedisCounterStore struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisCounterStore returns a counter store bounded by timeout per operation.
func NewRedisCounterStore(client *redis.Client, timeout time.Duration) *RedisCounterStore {
	return &RedisCounterStore{client: client, timeout: timeout}
}

// Incr atomically increments key and returns the new count. The key expires
// at the end of its window plus a grace second for clock skew between
// instances.
func (s *RedisCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	opCtx, cancel := kv.WithTimeout(ctx, s.timeout)
	defer cancel()
	ttlMillis := (window + time.Second).Milliseconds()
	count, err := incrScript.Run(opCtx, s.client, []string{key}, ttlMillis).Int64()
	if err != nil {
		return 0, kv.Unavailable(err)
	}
	return count, nil
}

// Get returns the current count for key; 0 when the window has not started.
func (s *RedisCounterStore) Get(ctx context.Context, key string) (int64, error) {
	opCtx, cancel := kv.WithTimeout(ctx, s.timeout)
	defer cancel()
	count, err := s.client.Get(opCtx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, kv.Unavailable(err)
	}
	return count, nil
}
