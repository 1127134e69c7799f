package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"truxe/security-core/internal/fingerprint"
	"truxe/security-core/internal/kv"
)

const (
	sessionKeyPrefix = "session:"
	indexKeyPrefix   = "user_sessions:"
)

// Store persists sessions. The registry is the only writer; multi-key
// consistency comes from the registry's per-user lock, not from the store.
type Store interface {
	Insert(ctx context.Context, s *Session) error
	Get(ctx context.Context, jti string) (*Session, error)
	Touch(ctx context.Context, jti string, at time.Time) (bool, error)
	Delete(ctx context.Context, orgID, userID, jti string) error
	ListActive(ctx context.Context, orgID, userID string) ([]*Session, error)
	PruneExpired(ctx context.Context, orgID, userID string) (int, error)
}

// touchScript updates lastUsedAt only when the session hash still exists, so
// a touch never resurrects an expired or evicted session as a TTL-less key.
var touchScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	redis.call("HSET", KEYS[1], "lastUsedAt", ARGV[1])
	return 1
end
return 0
`)

// RedisStore keeps each session as a hash `session:<jti>` plus a per-user
// index set `user_sessions:<org>:<user>`. Hash TTLs track token expiry so
// sessions self-prune; the index is swept lazily.
type RedisStore struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisStore returns a Store backed by the given client.
func NewRedisStore(client *redis.Client, timeout time.Duration) *RedisStore {
	return &RedisStore{client: client, timeout: timeout}
}

func indexKey(orgID, userID string) string {
	return indexKeyPrefix + orgID + ":" + userID
}

// Insert writes the session hash with a TTL matching token expiry and adds
// the JTI to the user's index. The index TTL is only ever extended, so it
// outlives the longest-lived member.
func (s *RedisStore) Insert(ctx context.Context, sess *Session) error {
	opCtx, cancel := kv.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := sessionKeyPrefix + sess.JTI
	idx := indexKey(sess.OrgID, sess.UserID)
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(opCtx, key, sessionFields(sess))
	pipe.Expire(opCtx, key, ttl)
	pipe.SAdd(opCtx, idx, sess.JTI)
	pipe.ExpireGT(opCtx, idx, ttl)
	pipe.ExpireNX(opCtx, idx, ttl) // ExpireGT is a no-op on keys without a TTL
	if _, err := pipe.Exec(opCtx); err != nil {
		return kv.Unavailable(err)
	}
	return nil
}

// Get returns the session for jti, or nil when it is gone.
func (s *RedisStore) Get(ctx context.Context, jti string) (*Session, error) {
	opCtx, cancel := kv.WithTimeout(ctx, s.timeout)
	defer cancel()
	fields, err := s.client.HGetAll(opCtx, sessionKeyPrefix+jti).Result()
	if err != nil {
		return nil, kv.Unavailable(err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return sessionFromFields(fields), nil
}

// Touch updates lastUsedAt. Returns false when the session no longer exists,
// which callers treat as "already gone", not an error.
func (s *RedisStore) Touch(ctx context.Context, jti string, at time.Time) (bool, error) {
	opCtx, cancel := kv.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := touchScript.Run(opCtx, s.client, []string{sessionKeyPrefix + jti}, at.UTC().Format(time.RFC3339Nano)).Int()
	if err != nil {
		return false, kv.Unavailable(err)
	}
	return n == 1, nil
}

// Delete removes the session hash and its index entry. Idempotent.
func (s *RedisStore) Delete(ctx context.Context, orgID, userID, jti string) error {
	opCtx, cancel := kv.WithTimeout(ctx, s.timeout)
	defer cancel()
	pipe := s.client.TxPipeline()
	pipe.Del(opCtx, sessionKeyPrefix+jti)
	pipe.SRem(opCtx, indexKey(orgID, userID), jti)
	if _, err := pipe.Exec(opCtx); err != nil {
		return kv.Unavailable(err)
	}
	return nil
}

// ListActive resolves the user's index to live sessions. Index members whose
// hash has expired are removed along the way, so the sweep doubles as lazy
// garbage collection.
func (s *RedisStore) ListActive(ctx context.Context, orgID, userID string) ([]*Session, error) {
	opCtx, cancel := kv.WithTimeout(ctx, s.timeout)
	defer cancel()

	idx := indexKey(orgID, userID)
	jtis, err := s.client.SMembers(opCtx, idx).Result()
	if err != nil {
		return nil, kv.Unavailable(err)
	}

	var out []*Session
	var stale []interface{}
	for _, jti := range jtis {
		fields, err := s.client.HGetAll(opCtx, sessionKeyPrefix+jti).Result()
		if err != nil {
			return nil, kv.Unavailable(err)
		}
		if len(fields) == 0 {
			stale = append(stale, jti)
			continue
		}
		out = append(out, sessionFromFields(fields))
	}
	if len(stale) > 0 {
		_ = s.client.SRem(opCtx, idx, stale...).Err()
	}
	return out, nil
}

// PruneExpired sweeps the user's index and returns the number of stale
// members removed. Deletes are idempotent, so overlapping sweeps are safe.
func (s *RedisStore) PruneExpired(ctx context.Context, orgID, userID string) (int, error) {
	before, err := s.countIndex(ctx, orgID, userID)
	if err != nil {
		return 0, err
	}
	live, err := s.ListActive(ctx, orgID, userID)
	if err != nil {
		return 0, err
	}
	removed := before - len(live)
	if removed < 0 {
		removed = 0
	}
	return removed, nil
}

func (s *RedisStore) countIndex(ctx context.Context, orgID, userID string) (int, error) {
	opCtx, cancel := kv.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := s.client.SCard(opCtx, indexKey(orgID, userID)).Result()
	if err != nil {
		return 0, kv.Unavailable(err)
	}
	return int(n), nil
}

func sessionFields(s *Session) map[string]interface{} {
	return map[string]interface{}{
		"jti":               s.JTI,
		"userId":            s.UserID,
		"orgId":             s.OrgID,
		"ip":                s.IP,
		"fingerprint":       s.Device.Fingerprint,
		"stableFingerprint": s.Device.StableFingerprint,
		"browser":           s.Device.Browser,
		"os":                s.Device.OS,
		"device":            s.Device.Device,
		"refreshHash":       s.RefreshHash,
		"createdAt":         s.CreatedAt.UTC().Format(time.RFC3339Nano),
		"lastUsedAt":        s.LastUsedAt.UTC().Format(time.RFC3339Nano),
		"expiresAt":         s.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}
}

func sessionFromFields(fields map[string]string) *Session {
	parse := func(v string) time.Time {
		t, _ := time.Parse(time.RFC3339Nano, v)
		return t
	}
	return &Session{
		JTI:    fields["jti"],
		UserID: fields["userId"],
		OrgID:  fields["orgId"],
		IP:     fields["ip"],
		Device: fingerprint.DeviceFingerprint{
			Fingerprint:       fields["fingerprint"],
			StableFingerprint: fields["stableFingerprint"],
			Browser:           fields["browser"],
			OS:                fields["os"],
			Device:            fields["device"],
		},
		RefreshHash: fields["refreshHash"],
		CreatedAt:   parse(fields["createdAt"]),
		LastUsedAt:  parse(fields["lastUsedAt"]),
		ExpiresAt:   parse(fields["expiresAt"]),
	}
}
