package kv

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// lockAttempts bounds optimistic retries before failing closed.
const lockAttempts = 3

// lockRetryDelay is the pause between lock acquisition attempts.
const lockRetryDelay = 20 * time.Millisecond

// releaseScript deletes the lock key only if it still holds our token, so an
// expired lock reacquired by another instance is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker provides short-lived per-key mutual exclusion across instances,
// backed by SET NX PX. Used to make session creation-with-eviction atomic
// with respect to the concurrency limit check.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLocker returns a Locker whose locks auto-expire after ttl, so a crashed
// holder cannot wedge the key.
func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &Locker{client: client, ttl: ttl}
}

// Acquire takes the lock for key, retrying up to three times. On exhaustion it
// returns ErrRaceLost; on store failure ErrStoreUnavailable. The returned
// release func is safe to call once, including after lock expiry.
func (l *Locker) Acquire(ctx context.Context, key string) (release func(), err error) {
	token, err := randomToken()
	if err != nil {
		return nil, err
	}
	lockKey := "lock:" + key

	for attempt := 0; attempt < lockAttempts; attempt++ {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return nil, Unavailable(err)
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = releaseScript.Run(releaseCtx, l.client, []string{lockKey}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
	return nil, fmt.Errorf("%w: lock %s", ErrRaceLost, key)
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
