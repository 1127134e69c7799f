// Package kv wraps the Redis client shared by the revocation store, session
// registry, rate limiter, and anomaly detector. Redis is the single source of
// truth for volatile security state across stateless API instances.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrStoreUnavailable wraps Redis connectivity and timeout failures.
	// Callers decide fail-open vs fail-closed per their documented policy.
	ErrStoreUnavailable = errors.New("backing store unavailable")
	// ErrRaceLost is returned when an atomic operation exhausted its retries.
	// Transient: the whole user-facing request is safe to retry.
	ErrRaceLost = errors.New("lost optimistic concurrency race")
)

// Open connects to Redis using the given DSN and verifies the connection.
// opTimeout bounds each subsequent store operation (see WithTimeout).
func Open(dsn string) (*redis.Client, error) {
	opt, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("kv: parse redis dsn: %w", err)
	}

	opt.PoolSize = 100
	opt.MinIdleConns = 2
	opt.DialTimeout = 5 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("kv: ping: %w", err)
	}
	return client, nil
}

// WithTimeout derives a context bounded by the store timeout so no security
// check can block past the caller's budget. The parent's cancellation still
// applies.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	return context.WithTimeout(ctx, timeout)
}

// Unavailable wraps err as ErrStoreUnavailable unless it is a miss (redis.Nil).
func Unavailable(err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
