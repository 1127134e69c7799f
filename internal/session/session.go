// Package session tracks active sessions per user and enforces the per-tier
// concurrency cap. Sessions live in the volatile store so every API instance
// sees the same registry; the cap is enforced at creation time under a
// per-user lock and never violated retroactively.
package session

import (
	"time"

	"truxe/security-core/internal/fingerprint"
)

// Session ties an issued token pair (by JTI) to its owner, tenant, and the
// device context captured at authentication time.
type Session struct {
	JTI    string                        `json:"jti"`
	UserID string                        `json:"userId"`
	OrgID  string                        `json:"orgId"`
	Device fingerprint.DeviceFingerprint `json:"deviceInfo"`
	IP     string                        `json:"ip"`
	// RefreshHash is the SHA-256 of the session's refresh token, checked on
	// rotation so a signed token cannot be replayed against another session.
	RefreshHash string    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUsedAt  time.Time `json:"lastUsedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Expired reports whether the session's token pair has run out.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
