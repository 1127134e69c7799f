// Package ratelimit implements multi-layer fixed-window rate limiting backed
// by a shared counter store, plus an emergency controller that degrades all
// limits when the global request rate crosses a high-water mark.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"truxe/security-core/internal/event"
)

// Scope names a rate-limit layer. Layers are evaluated in the order they
// appear in DefaultRules, short-circuiting on the first rejection.
type Scope string

const (
	ScopeIP         Scope = "ip"
	ScopeIPEndpoint Scope = "ip-endpoint"
	ScopeUser       Scope = "user"
	ScopeEmail      Scope = "email"
	ScopeGlobal     Scope = "global"
)

// Result is the outcome of a rate-limit check, with reset metadata for the
// structured rejection the HTTP layer returns.
type Result struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
	// Scope is the layer that rejected the request; empty when allowed.
	Scope Scope
}

// Rule configures one layer.
type Rule struct {
	Scope  Scope
	Limit  int64
	Window time.Duration
	// FailOpen allows requests through when the counter store is unreachable.
	// Authentication layers keep this false (fail-closed).
	FailOpen bool
}

// Request carries the identifiers a multi-layer check needs. Layers whose
// identifier is empty are skipped (e.g. Email on authenticated requests).
type Request struct {
	IP       string
	UserID   string
	Email    string
	Endpoint string
}

// CounterStore is the shared fixed-window counter backend.
// Incr atomically increments the counter for key within its window and
// returns the new count; the counter expires at the window boundary.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
}

// Limiter evaluates the configured layers in order against the counter store.
type Limiter struct {
	store     CounterStore
	rules     []Rule
	emergency *Emergency
	events    *event.Logger
	nowF      func() time.Time
}

// DefaultRules returns the layer stack in evaluation order. failOpen applies
// to every layer; authentication deployments keep it false.
func DefaultRules(failOpen bool) []Rule {
	return []Rule{
		{Scope: ScopeIP, Limit: 300, Window: time.Minute, FailOpen: failOpen},
		{Scope: ScopeIPEndpoint, Limit: 60, Window: time.Minute, FailOpen: failOpen},
		{Scope: ScopeUser, Limit: 120, Window: time.Minute, FailOpen: failOpen},
		{Scope: ScopeEmail, Limit: 5, Window: time.Minute, FailOpen: failOpen},
		{Scope: ScopeGlobal, Limit: 100000, Window: time.Minute, FailOpen: failOpen},
	}
}

// NewLimiter returns a Limiter over store with the given layer rules.
// emergency and events may be nil (no degradation, no audit records).
func NewLimiter(store CounterStore, rules []Rule, emergency *Emergency, events *event.Logger) *Limiter {
	return &Limiter{
		store:     store,
		rules:     rules,
		emergency: emergency,
		events:    events,
		nowF:      time.Now().UTC,
	}
}

// Consume runs every layer in order, incrementing each counter, and
// short-circuits on the first rejection. A rejection is normal control flow,
// not an error; the error return is reserved for fail-closed store failures.
func (l *Limiter) Consume(ctx context.Context, req Request) (Result, error) {
	for _, rule := range l.rules {
		id := identifier(rule.Scope, req)
		if id == "" {
			continue
		}
		res, err := l.consumeOne(ctx, rule, id)
		if err != nil {
			if rule.FailOpen {
				continue
			}
			return Result{Allowed: false, Scope: rule.Scope}, err
		}
		if !res.Allowed {
			l.logRejection(ctx, req, res)
			return res, nil
		}
		if rule.Scope == ScopeGlobal && l.emergency != nil {
			l.observeGlobal(ctx, rule, res)
		}
	}
	return Result{Allowed: true, Remaining: -1}, nil
}

// Check reports the current budget for a single scope without consuming.
func (l *Limiter) Check(ctx context.Context, scope Scope, id string, limit int64, window time.Duration) (Result, error) {
	windowStart := l.nowF().Truncate(window)
	resetAt := windowStart.Add(window)
	count, err := l.store.Get(ctx, counterKey(scope, id, windowStart))
	if err != nil {
		return Result{}, err
	}
	effLimit := l.effectiveLimit(limit)
	remaining := effLimit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: count < effLimit, Remaining: remaining, ResetAt: resetAt}, nil
}

func (l *Limiter) consumeOne(ctx context.Context, rule Rule, id string) (Result, error) {
	windowStart := l.nowF().Truncate(rule.Window)
	resetAt := windowStart.Add(rule.Window)
	count, err := l.store.Incr(ctx, counterKey(rule.Scope, id, windowStart), rule.Window)
	if err != nil {
		return Result{}, err
	}
	effLimit := l.effectiveLimit(rule.Limit)
	if count > effLimit {
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt, Scope: rule.Scope}, nil
	}
	return Result{Allowed: true, Remaining: effLimit - count, ResetAt: resetAt}, nil
}

// effectiveLimit applies the emergency reduction factor, flooring at 1 so a
// degraded system still admits some traffic.
func (l *Limiter) effectiveLimit(limit int64) int64 {
	if l.emergency == nil {
		return limit
	}
	factor := l.emergency.Factor()
	if factor >= 1 {
		return limit
	}
	reduced := int64(float64(limit) * factor)
	if reduced < 1 {
		reduced = 1
	}
	return reduced
}

// observeGlobal feeds the global layer's count into the emergency controller
// and records a state-transition event when the mode changes.
func (l *Limiter) observeGlobal(ctx context.Context, rule Rule, res Result) {
	before := l.emergency.State()
	after := l.emergency.Observe(l.effectiveLimit(rule.Limit)-res.Remaining, l.nowF())
	if after != before && l.events != nil {
		l.events.Log(ctx, &event.SecurityEvent{
			Action:   event.ActionEmergencyMode,
			Severity: event.SeverityCritical,
			Details: map[string]any{
				"from": string(before),
				"to":   string(after),
			},
		})
	}
}

func (l *Limiter) logRejection(ctx context.Context, req Request, res Result) {
	if l.events == nil {
		return
	}
	l.events.Log(ctx, &event.SecurityEvent{
		Action:   event.ActionRateLimited,
		Severity: event.SeverityWarn,
		UserID:   req.UserID,
		Details: map[string]any{
			"scope":    string(res.Scope),
			"ip":       req.IP,
			"endpoint": req.Endpoint,
			"resetAt":  res.ResetAt.Format(time.RFC3339),
		},
	})
}

func identifier(scope Scope, req Request) string {
	switch scope {
	case ScopeIP:
		return req.IP
	case ScopeIPEndpoint:
		if req.IP == "" || req.Endpoint == "" {
			return ""
		}
		return req.IP + ":" + req.Endpoint
	case ScopeUser:
		if req.UserID == "" || req.Endpoint == "" {
			return ""
		}
		return req.UserID + ":" + req.Endpoint
	case ScopeEmail:
		return req.Email
	case ScopeGlobal:
		return "all"
	default:
		return ""
	}
}

func counterKey(scope Scope, id string, windowStart time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", scope, id, windowStart.Unix())
}

