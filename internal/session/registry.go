package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"truxe/security-core/internal/event"
	"truxe/security-core/internal/fingerprint"
	"truxe/security-core/internal/revocation"
)

// Locker provides per-user mutual exclusion for creation-with-eviction.
// kv.Locker is the production implementation; a nil Locker disables locking
// for single-process use.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// LimitSource resolves the per-user concurrency cap for a tenant. Zero means
// unlimited.
type LimitSource interface {
	SessionLimit(ctx context.Context, orgID string) (int, error)
}

// CreateParams carries everything needed to register a new session.
type CreateParams struct {
	// JTI ties the session to an issued token pair. Empty generates one.
	JTI    string
	UserID string
	OrgID  string
	Device fingerprint.DeviceFingerprint
	IP     string
	// RefreshHash binds the session to its refresh token (see Session).
	RefreshHash string
	// TTL is the session lifetime, normally the refresh-token TTL.
	TTL time.Duration
}

// Registry enforces the concurrency invariant: at most N active sessions per
// user, N from the tenant's plan tier, checked before every insert.
type Registry struct {
	store       Store
	locker      Locker
	revocations revocation.Store
	limits      LimitSource
	events      *event.Logger
	scoring     ScoringConfig
	nowF        func() time.Time
}

// NewRegistry wires a Registry. revocations and events may be nil when the
// caller handles those concerns itself.
func NewRegistry(store Store, locker Locker, revocations revocation.Store, limits LimitSource, events *event.Logger, scoring ScoringConfig) *Registry {
	if scoring == (ScoringConfig{}) {
		scoring = DefaultScoring()
	}
	return &Registry{
		store:       store,
		locker:      locker,
		revocations: revocations,
		limits:      limits,
		events:      events,
		scoring:     scoring,
		nowF:        time.Now().UTC,
	}
}

// Create registers a new session, evicting the lowest-scoring existing one
// when the user is at their cap. The limit check and insert run under a
// per-user lock so two concurrent creations cannot both slip past the cap;
// lock exhaustion surfaces kv.ErrRaceLost and the whole request is safe to
// retry.
func (r *Registry) Create(ctx context.Context, p CreateParams) (*Session, error) {
	if p.UserID == "" || p.OrgID == "" {
		return nil, fmt.Errorf("session: missing user or org id")
	}
	if p.JTI == "" {
		p.JTI = uuid.NewString()
	}

	if r.locker != nil {
		release, err := r.locker.Acquire(ctx, "sessions:"+p.OrgID+":"+p.UserID)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	limit := 0
	if r.limits != nil {
		var err error
		limit, err = r.limits.SessionLimit(ctx, p.OrgID)
		if err != nil {
			return nil, err
		}
	}

	now := r.nowF()
	if limit > 0 {
		active, err := r.store.ListActive(ctx, p.OrgID, p.UserID)
		if err != nil {
			return nil, err
		}
		for len(active) >= limit {
			victim := pickEviction(active, r.scoring, p.Device, p.IP, now)
			if err := r.evict(ctx, victim, now); err != nil {
				return nil, err
			}
			active = withoutJTI(active, victim.JTI)
		}
	}

	sess := &Session{
		JTI:         p.JTI,
		UserID:      p.UserID,
		OrgID:       p.OrgID,
		Device:      p.Device,
		IP:          p.IP,
		RefreshHash: p.RefreshHash,
		CreatedAt:   now,
		LastUsedAt:  now,
		ExpiresAt:   now.Add(p.TTL),
	}
	if err := r.store.Insert(ctx, sess); err != nil {
		return nil, err
	}

	r.log(ctx, sess, event.ActionSessionCreated, event.SeverityInfo, nil)
	return sess, nil
}

// Touch records activity on the session. A missing session is not an error:
// it may have been evicted or expired concurrently.
func (r *Registry) Touch(ctx context.Context, jti string) error {
	_, err := r.store.Touch(ctx, jti, r.nowF())
	return err
}

// Revoke removes the session and blocklists its JTI for the remainder of the
// token lifetime. Unknown JTIs are still blocklisted, covering tokens whose
// session record is already gone.
func (r *Registry) Revoke(ctx context.Context, jti string, reason revocation.Reason) error {
	sess, err := r.store.Get(ctx, jti)
	if err != nil {
		return err
	}

	ttl := time.Hour
	if sess != nil {
		if remaining := sess.ExpiresAt.Sub(r.nowF()); remaining > ttl {
			ttl = remaining
		}
		if err := r.store.Delete(ctx, sess.OrgID, sess.UserID, jti); err != nil {
			return err
		}
	}
	if r.revocations != nil {
		if err := r.revocations.Revoke(ctx, jti, reason, ttl); err != nil {
			return err
		}
	}

	if sess != nil {
		r.log(ctx, sess, event.ActionSessionRevoked, event.SeverityInfo, map[string]any{
			"reason": string(reason),
		})
	}
	return nil
}

// RevokeAllForUser revokes every active session of one user, e.g. on a
// security incident or password change. Returns the number revoked.
func (r *Registry) RevokeAllForUser(ctx context.Context, orgID, userID string, reason revocation.Reason) (int, error) {
	active, err := r.store.ListActive(ctx, orgID, userID)
	if err != nil {
		return 0, err
	}
	for i, s := range active {
		if err := r.Revoke(ctx, s.JTI, reason); err != nil {
			return i, err
		}
	}
	return len(active), nil
}

// Get returns the session for jti, or nil when it is gone.
func (r *Registry) Get(ctx context.Context, jti string) (*Session, error) {
	return r.store.Get(ctx, jti)
}

// CountActive returns the user's live session count.
func (r *Registry) CountActive(ctx context.Context, orgID, userID string) (int, error) {
	active, err := r.store.ListActive(ctx, orgID, userID)
	if err != nil {
		return 0, err
	}
	return len(active), nil
}

// List returns the user's live sessions.
func (r *Registry) List(ctx context.Context, orgID, userID string) ([]*Session, error) {
	return r.store.ListActive(ctx, orgID, userID)
}

// PruneExpired sweeps stale index entries for one user. Safe to run
// concurrently with live traffic.
func (r *Registry) PruneExpired(ctx context.Context, orgID, userID string) (int, error) {
	return r.store.PruneExpired(ctx, orgID, userID)
}

// evict removes the victim, blocklists its JTI, and records the eviction.
func (r *Registry) evict(ctx context.Context, victim *Session, now time.Time) error {
	if err := r.store.Delete(ctx, victim.OrgID, victim.UserID, victim.JTI); err != nil {
		return err
	}
	if r.revocations != nil {
		ttl := victim.ExpiresAt.Sub(now)
		if err := r.revocations.Revoke(ctx, victim.JTI, revocation.ReasonEviction, ttl); err != nil {
			return err
		}
	}
	r.log(ctx, victim, event.ActionSessionEvicted, event.SeverityWarn, map[string]any{
		"evictedJti": victim.JTI,
	})
	return nil
}

func (r *Registry) log(ctx context.Context, s *Session, action string, severity event.Severity, extra map[string]any) {
	if r.events == nil {
		return
	}
	details := map[string]any{
		"jti":    s.JTI,
		"ip":     s.IP,
		"device": s.Device.Device,
	}
	for k, v := range extra {
		details[k] = v
	}
	r.events.Log(ctx, &event.SecurityEvent{
		Action:   action,
		Severity: severity,
		UserID:   s.UserID,
		OrgID:    s.OrgID,
		Details:  details,
	})
}

func withoutJTI(sessions []*Session, jti string) []*Session {
	out := sessions[:0]
	for _, s := range sessions {
		if s.JTI != jti {
			out = append(out, s)
		}
	}
	return out
}
