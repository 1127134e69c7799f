package revocation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"truxe/security-core/internal/kv"
)

const keyPrefix = "revoked:jti:"

// storedEntry is the JSON value kept under revoked:jti:<jti>, carrying the
// reason and the revocation time for audit reads.
type storedEntry struct {
	Reason    Reason    `json:"reason"`
	RevokedAt time.Time `json:"revokedAt"`
}

// RedisStore implements Store on Redis. Redis TTL handles expiry so no
// background purge is needed.
type RedisStore struct {
	client  *redis.Client
	timeout time.Duration
	nowF    func() time.Time
}

// NewRedisStore returns a Store backed by the given client. Every operation is
// bounded by timeout.
func NewRedisStore(client *redis.Client, timeout time.Duration) *RedisStore {
	return &RedisStore{client: client, timeout: timeout, nowF: time.Now().UTC}
}

// Revoke marks jti as revoked for ttl. Overwrites the entry on repeat calls.
func (s *RedisStore) Revoke(ctx context.Context, jti string, reason Reason, ttl time.Duration) error {
	if jti == "" {
		return ErrEmptyJTI
	}
	val, err := json.Marshal(storedEntry{Reason: reason, RevokedAt: s.nowF()})
	if err != nil {
		return err
	}
	opCtx, cancel := kv.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Set(opCtx, keyPrefix+jti, val, ClampTTL(ttl)).Err(); err != nil {
		return kv.Unavailable(err)
	}
	return nil
}

// IsRevoked looks up jti. A store failure is returned as
// kv.ErrStoreUnavailable; the caller must treat the token as revoked.
func (s *RedisStore) IsRevoked(ctx context.Context, jti string) (Status, error) {
	if jti == "" {
		return Status{}, ErrEmptyJTI
	}
	opCtx, cancel := kv.WithTimeout(ctx, s.timeout)
	defer cancel()
	val, err := s.client.Get(opCtx, keyPrefix+jti).Result()
	if errors.Is(err, redis.Nil) {
		return Status{Revoked: false}, nil
	}
	if err != nil {
		return Status{}, kv.Unavailable(err)
	}
	return parseStored(val), nil
}

// parseStored decodes a revocation entry value. Entries written before the
// JSON format, holding a bare reason string, are still honored.
func parseStored(val string) Status {
	var e storedEntry
	if err := json.Unmarshal([]byte(val), &e); err != nil {
		return Status{Revoked: true, Reason: Reason(val)}
	}
	return Status{Revoked: true, Reason: e.Reason, RevokedAt: e.RevokedAt}
}
