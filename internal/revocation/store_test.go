package revocation

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_RevokeAndLookup(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	st, err := s.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if st.Revoked {
		t.Error("fresh jti should not be revoked")
	}

	if err := s.Revoke(ctx, "jti-1", ReasonUserLogout, time.Minute); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	st, err = s.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if !st.Revoked {
		t.Error("jti should be revoked")
	}
	if st.Reason != ReasonUserLogout {
		t.Errorf("reason = %q, want %q", st.Reason, ReasonUserLogout)
	}
}

func TestMemoryStore_RevokeIdempotentOverwritesReason(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Revoke(ctx, "jti-1", ReasonUserLogout, time.Minute); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := s.Revoke(ctx, "jti-1", ReasonSecurityIncident, time.Minute); err != nil {
		t.Fatalf("Revoke twice: %v", err)
	}

	st, err := s.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if !st.Revoked {
		t.Error("jti should stay revoked")
	}
	if st.Reason != ReasonSecurityIncident {
		t.Errorf("reason = %q, want latest reason %q", st.Reason, ReasonSecurityIncident)
	}
}

func TestMemoryStore_EntryExpires(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.nowF = func() time.Time { return now }
	ctx := context.Background()

	if err := s.Revoke(ctx, "jti-1", ReasonRotation, 10*time.Second); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	st, _ := s.IsRevoked(ctx, "jti-1")
	if !st.Revoked {
		t.Fatal("jti should be revoked before TTL elapses")
	}

	now = now.Add(11 * time.Second)
	st, err := s.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if st.Revoked {
		t.Error("entry should be absent after TTL; original token has also expired")
	}
}

func TestMemoryStore_EmptyJTI(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Revoke(ctx, "", ReasonUserLogout, time.Minute); err != ErrEmptyJTI {
		t.Errorf("Revoke(\"\") = %v, want ErrEmptyJTI", err)
	}
	if _, err := s.IsRevoked(ctx, ""); err != ErrEmptyJTI {
		t.Errorf("IsRevoked(\"\") = %v, want ErrEmptyJTI", err)
	}
}

func TestClampTTL(t *testing.T) {
	if got := ClampTTL(0); got != time.Second {
		t.Errorf("ClampTTL(0) = %v, want 1s floor", got)
	}
	if got := ClampTTL(-time.Minute); got != time.Second {
		t.Errorf("ClampTTL(-1m) = %v, want 1s floor", got)
	}
	if got := ClampTTL(time.Hour); got != time.Hour {
		t.Errorf("ClampTTL(1h) = %v, want unchanged", got)
	}
}

func TestMemoryStore_RecordsRevokedAt(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	s.nowF = func() time.Time { return now }
	ctx := context.Background()

	if err := s.Revoke(ctx, "jti-1", ReasonAdminRevoke, time.Minute); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	st, err := s.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if !st.RevokedAt.Equal(now) {
		t.Errorf("revokedAt = %v, want %v", st.RevokedAt, now)
	}
}

func TestParseStored(t *testing.T) {
	at := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	st := parseStored(`{"reason":"eviction","revokedAt":"2026-02-01T09:30:00Z"}`)
	if !st.Revoked || st.Reason != ReasonEviction || !st.RevokedAt.Equal(at) {
		t.Errorf("parseStored = %+v", st)
	}

	// Bare reason strings from the pre-JSON format stay readable.
	st = parseStored("rotation")
	if !st.Revoked || st.Reason != ReasonRotation {
		t.Errorf("parseStored bare = %+v", st)
	}
	if !st.RevokedAt.IsZero() {
		t.Errorf("bare entry has no revokedAt, got %v", st.RevokedAt)
	}
}
