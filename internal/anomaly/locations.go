package anomaly

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"truxe/security-core/internal/kv"
)

const (
	locationKeyPrefix = "last_location:"
	locationTTL       = 30 * 24 * time.Hour
)

// RedisLocationStore keeps last-seen locations as JSON values with a
// rolling TTL, so idle users age out on their own.
type RedisLocationStore struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisLocationStore returns a LocationStore backed by the given client.
func NewRedisLocationStore(client *redis.Client, timeout time.Duration) *RedisLocationStore {
	return &RedisLocationStore{client: client, timeout: timeout}
}

// Last returns the stored location for userID, or nil when none exists.
func (s *RedisLocationStore) Last(ctx context.Context, userID string) (*LastSeen, error) {
	opCtx, cancel := kv.WithTimeout(ctx, s.timeout)
	defer cancel()
	raw, err := s.client.Get(opCtx, locationKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, kv.Unavailable(err)
	}
	var seen LastSeen
	if err := json.Unmarshal(raw, &seen); err != nil {
		// A corrupt entry is treated as absent; the next save overwrites it.
		return nil, nil
	}
	return &seen, nil
}

// Save overwrites the stored location for userID and refreshes its TTL.
func (s *RedisLocationStore) Save(ctx context.Context, userID string, seen LastSeen) error {
	raw, err := json.Marshal(seen)
	if err != nil {
		return err
	}
	opCtx, cancel := kv.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Set(opCtx, locationKeyPrefix+userID, raw, locationTTL).Err(); err != nil {
		return kv.Unavailable(err)
	}
	return nil
}

// MemoryLocationStore is an in-memory LocationStore for tests.
type MemoryLocationStore struct {
	mu sync.Mutex
	m  map[string]LastSeen
}

// NewMemoryLocationStore returns an empty in-memory store.
func NewMemoryLocationStore() *MemoryLocationStore {
	return &MemoryLocationStore{m: make(map[string]LastSeen)}
}

// Last returns the stored location for userID, or nil when none exists.
func (s *MemoryLocationStore) Last(ctx context.Context, userID string) (*LastSeen, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen, ok := s.m[userID]
	if !ok {
		return nil, nil
	}
	return &seen, nil
}

// Save overwrites the stored location for userID.
func (s *MemoryLocationStore) Save(ctx context.Context, userID string, seen LastSeen) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[userID] = seen
	return nil
}
