package revocation

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	reason    Reason
	revokedAt time.Time
	expiresAt time.Time
}

// MemoryStore is an in-memory Store implementation for tests and
// single-process development. Not for multi-instance deployments.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryStore returns a new in-memory revocation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]entry),
		nowF: time.Now().UTC,
	}
}

// Revoke marks jti as revoked for ttl, overwriting the reason on repeat calls.
func (s *MemoryStore) Revoke(ctx context.Context, jti string, reason Reason, ttl time.Duration) error {
	if jti == "" {
		return ErrEmptyJTI
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	s.m[jti] = entry{reason: reason, revokedAt: now, expiresAt: now.Add(ClampTTL(ttl))}
	return nil
}

// IsRevoked reports whether jti is revoked and not yet expired.
func (s *MemoryStore) IsRevoked(ctx context.Context, jti string) (Status, error) {
	if jti == "" {
		return Status{}, ErrEmptyJTI
	}
	s.mu.RLock()
	e, ok := s.m[jti]
	s.mu.RUnlock()
	if !ok {
		return Status{Revoked: false}, nil
	}
	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		delete(s.m, jti)
		s.mu.Unlock()
		return Status{Revoked: false}, nil
	}
	return Status{Revoked: true, Reason: e.reason, RevokedAt: e.revokedAt}, nil
}
