package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

// MemoryCounterStore is an in-memory CounterStore for tests and
// single-process development. Not for multi-instance deployments.
type MemoryCounterStore struct {
	mu   sync.Mutex
	m    map[string]memoryCounter
	nowF func() time.Time
}

// NewMemoryCounterStore returns a new in-memory counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		m:    make(map[string]memoryCounter),
		nowF: time.Now().UTC,
	}
}

// Incr increments the counter for key, resetting it when the window expired.
func (s *MemoryCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	c, ok := s.m[key]
	if !ok || !c.expiresAt.After(now) {
		c = memoryCounter{count: 0, expiresAt: now.Add(window + time.Second)}
	}
	c.count++
	s.m[key] = c
	return c.count, nil
}

// Get returns the current count for key; 0 for missing or expired windows.
func (s *MemoryCounterStore) Get(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.m[key]
	if !ok || !c.expiresAt.After(s.nowF()) {
		return 0, nil
	}
	return c.count, nil
}
