package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-process
// development. Expiry is checked on read since there is no TTL reaper.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session         // jti -> session
	index    map[string]map[string]bool  // org:user -> set of jtis
	nowF     func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		index:    make(map[string]map[string]bool),
		nowF:     time.Now().UTC,
	}
}

// Insert stores the session and indexes it under its owner.
func (m *MemoryStore) Insert(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.JTI] = &cp
	idx := indexKey(s.OrgID, s.UserID)
	if m.index[idx] == nil {
		m.index[idx] = make(map[string]bool)
	}
	m.index[idx][s.JTI] = true
	return nil
}

// Get returns the session for jti, or nil when missing or expired.
func (m *MemoryStore) Get(ctx context.Context, jti string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[jti]
	if !ok || s.Expired(m.nowF()) {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

// Touch updates lastUsedAt; returns false when the session is gone.
func (m *MemoryStore) Touch(ctx context.Context, jti string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[jti]
	if !ok || s.Expired(m.nowF()) {
		return false, nil
	}
	s.LastUsedAt = at
	return true, nil
}

// Delete removes the session and its index entry. Idempotent.
func (m *MemoryStore) Delete(ctx context.Context, orgID, userID, jti string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, jti)
	if set := m.index[indexKey(orgID, userID)]; set != nil {
		delete(set, jti)
	}
	return nil
}

// ListActive returns the user's live sessions.
func (m *MemoryStore) ListActive(ctx context.Context, orgID, userID string) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowF()
	var out []*Session
	for jti := range m.index[indexKey(orgID, userID)] {
		s, ok := m.sessions[jti]
		if !ok || s.Expired(now) {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

// PruneExpired removes expired sessions and stale index members.
func (m *MemoryStore) PruneExpired(ctx context.Context, orgID, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowF()
	removed := 0
	set := m.index[indexKey(orgID, userID)]
	for jti := range set {
		s, ok := m.sessions[jti]
		if ok && !s.Expired(now) {
			continue
		}
		delete(m.sessions, jti)
		delete(set, jti)
		removed++
	}
	return removed, nil
}
