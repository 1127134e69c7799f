// Package revocation tracks revoked token JTIs until their original tokens
// would have expired anyway. Lookups are O(1) against the backing store and
// fail closed: if the store cannot answer, the token is treated as revoked.
package revocation

import (
	"context"
	"errors"
	"time"
)

// Reason records why a token was revoked.
type Reason string

const (
	ReasonUserLogout       Reason = "user_logout"
	ReasonAdminRevoke      Reason = "admin_revoke"
	ReasonSecurityIncident Reason = "security_incident"
	ReasonRotation         Reason = "rotation"
	ReasonEviction         Reason = "eviction"
)

// minTTL floors the revocation entry lifetime so an entry always outlives
// clock skew on the token's own expiry.
const minTTL = time.Second

// ErrEmptyJTI is returned when the caller passes an empty token identifier.
var ErrEmptyJTI = errors.New("revocation: empty jti")

// Status is the result of a revocation lookup. RevokedAt is the time the
// entry was written, kept so audit reads can reconstruct the full record.
type Status struct {
	Revoked   bool
	Reason    Reason
	RevokedAt time.Time
}

// Store tracks revoked JTIs. Revoke is idempotent: revoking an
// already-revoked JTI overwrites the reason but not the revocation status.
// IsRevoked returns an error only when the backing store cannot answer;
// security-critical callers must then reject the token (fail-closed).
type Store interface {
	Revoke(ctx context.Context, jti string, reason Reason, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (Status, error)
}

// ClampTTL normalizes the revocation TTL: never below minTTL, so the entry is
// guaranteed to survive at least as long as the token it shadows.
func ClampTTL(ttl time.Duration) time.Duration {
	if ttl < minTTL {
		return minTTL
	}
	return ttl
}
