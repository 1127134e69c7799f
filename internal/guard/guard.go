// Package guard is the in-process surface the auth flow calls at its three
// touch points: token issuance, per-request checks, and revocation. It
// sequences the security components (revocation before rate limiting,
// fingerprint and travel check before registry enforcement) and applies
// each component's fail-open/fail-closed policy.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"truxe/security-core/internal/anomaly"
	"truxe/security-core/internal/db"
	"truxe/security-core/internal/event"
	"truxe/security-core/internal/fingerprint"
	"truxe/security-core/internal/ratelimit"
	"truxe/security-core/internal/request"
	"truxe/security-core/internal/revocation"
	"truxe/security-core/internal/security"
	"truxe/security-core/internal/session"
)

var (
	// ErrTokenRevoked is returned for tokens whose JTI is blocklisted.
	ErrTokenRevoked = errors.New("guard: token revoked")
	// ErrRateLimited is returned when a rate-limit layer rejects the request.
	ErrRateLimited = errors.New("guard: rate limited")
	// ErrUserInactive is returned when the subject exists but is suspended
	// or deleted in the reference data.
	ErrUserInactive = errors.New("guard: user is not active")
)

// LoginEndpoint is the rate-limit endpoint label for session issuance.
const LoginEndpoint = "login"

// TokenProvider issues and validates token pairs. *security.TokenProvider is
// the production implementation.
type TokenProvider interface {
	IssuePair(userID, orgID string) (security.TokenPair, error)
	ValidateAccess(token string) (*security.Claims, error)
	ValidateRefresh(token string) (*security.Claims, error)
}

// RateLimiter consumes rate-limit budget for a request.
type RateLimiter interface {
	Consume(ctx context.Context, req ratelimit.Request) (ratelimit.Result, error)
}

// SessionRegistry is the slice of *session.Registry the guard needs.
type SessionRegistry interface {
	Create(ctx context.Context, p session.CreateParams) (*session.Session, error)
	Get(ctx context.Context, jti string) (*session.Session, error)
	Touch(ctx context.Context, jti string) error
	Revoke(ctx context.Context, jti string, reason revocation.Reason) error
	RevokeAllForUser(ctx context.Context, orgID, userID string, reason revocation.Reason) (int, error)
}

// UserSource reads subject status from reference data. *db.RefStore is the
// production implementation.
type UserSource interface {
	GetUser(ctx context.Context, id string) (*db.User, error)
}

// TravelDetector runs the impossible-travel check on login.
type TravelDetector interface {
	ImpossibleTravel(ctx context.Context, userID string, reqCtx request.Context, at time.Time) (anomaly.TravelResult, error)
}

// Grant is the result of a successful issuance or refresh.
type Grant struct {
	Session *session.Session
	Tokens  security.TokenPair
	// Travel carries the impossible-travel signal. It never blocks the
	// grant; callers decide whether to step up verification.
	Travel anomaly.TravelResult
}

// Guard wires the security components behind the three auth-flow entry
// points.
type Guard struct {
	tokens      TokenProvider
	revocations revocation.Store
	limiter     RateLimiter
	registry    SessionRegistry
	users       UserSource
	detector    TravelDetector
	risk        *anomaly.RiskEvaluator
	events      *event.Logger
	nowF        func() time.Time
}

// New wires a Guard. limiter, users, detector, risk, and events may be nil;
// the corresponding checks are skipped.
func New(tokens TokenProvider, revocations revocation.Store, limiter RateLimiter, registry SessionRegistry, users UserSource, detector TravelDetector, risk *anomaly.RiskEvaluator, events *event.Logger) *Guard {
	return &Guard{
		tokens:      tokens,
		revocations: revocations,
		limiter:     limiter,
		registry:    registry,
		users:       users,
		detector:    detector,
		risk:        risk,
		events:      events,
		nowF:        time.Now().UTC,
	}
}

// CheckRequest validates an access token for one authenticated request:
// signature and claims, then revocation (fail-closed: an unreachable store
// surfaces its error and the request is rejected), then rate limiting, then
// a best-effort session touch. Returns the validated claims.
func (g *Guard) CheckRequest(ctx context.Context, token string, reqCtx request.Context, endpoint string) (*security.Claims, error) {
	claims, err := g.tokens.ValidateAccess(token)
	if err != nil {
		return nil, err
	}

	status, err := g.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		// Revocation is fail-closed: no answer means no access.
		return nil, err
	}
	if status.Revoked {
		return nil, fmt.Errorf("%w (%s)", ErrTokenRevoked, status.Reason)
	}

	if g.limiter != nil {
		res, err := g.limiter.Consume(ctx, ratelimit.Request{
			IP:       reqCtx.IP,
			UserID:   claims.Subject,
			Endpoint: endpoint,
		})
		if err != nil {
			return nil, err
		}
		if !res.Allowed {
			return nil, fmt.Errorf("%w: scope %s", ErrRateLimited, res.Scope)
		}
	}

	// Touch is best-effort: the session may be gone already, and a store
	// hiccup here must not fail a request that passed the real checks.
	if err := g.registry.Touch(ctx, claims.ID); err != nil {
		log.Printf("guard: touch session %s: %v", claims.ID, err)
	}
	return claims, nil
}

// IssueSession runs the login path: rate limit, user status, fingerprint,
// travel check, then session creation with eviction and token issuance. The
// travel signal is advisory and never blocks.
func (g *Guard) IssueSession(ctx context.Context, userID, orgID string, reqCtx request.Context) (*Grant, error) {
	if g.limiter != nil {
		res, err := g.limiter.Consume(ctx, ratelimit.Request{
			IP:       reqCtx.IP,
			Email:    reqCtx.Email,
			Endpoint: LoginEndpoint,
		})
		if err != nil {
			return nil, err
		}
		if !res.Allowed {
			return nil, fmt.Errorf("%w: scope %s", ErrRateLimited, res.Scope)
		}
	}

	// Status lookup is fail-closed: reference data that cannot answer must
	// not issue tokens for a possibly-suspended subject. An unknown user is
	// allowed; the core can run without seeded reference data.
	if g.users != nil {
		u, err := g.users.GetUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if u != nil && u.Status != db.UserStatusActive {
			return nil, fmt.Errorf("%w (%s)", ErrUserInactive, u.Status)
		}
	}

	device := fingerprint.Generate(reqCtx)

	var travel anomaly.TravelResult
	if g.detector != nil {
		var err error
		travel, err = g.detector.ImpossibleTravel(ctx, userID, reqCtx, g.nowF())
		if err != nil {
			log.Printf("guard: travel check for user %s: %v", userID, err)
		}
	}

	pair, err := g.tokens.IssuePair(userID, orgID)
	if err != nil {
		return nil, err
	}

	sess, err := g.registry.Create(ctx, session.CreateParams{
		JTI:         pair.JTI,
		UserID:      userID,
		OrgID:       orgID,
		Device:      device,
		IP:          reqCtx.IP,
		RefreshHash: pair.RefreshHash,
		TTL:         pair.RefreshExpiresAt.Sub(g.nowF()),
	})
	if err != nil {
		return nil, err
	}

	return &Grant{Session: sess, Tokens: pair, Travel: travel}, nil
}

// RefreshSession rotates a token pair. The presented refresh token must be
// valid, unrevoked, and bound (by hash) to a live session; the old JTI is
// revoked before the replacement pair is issued so a stolen refresh token
// dies with its first use.
func (g *Guard) RefreshSession(ctx context.Context, refreshToken string, reqCtx request.Context) (*Grant, error) {
	claims, err := g.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	status, err := g.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if status.Revoked {
		return nil, fmt.Errorf("%w (%s)", ErrTokenRevoked, status.Reason)
	}

	sess, err := g.registry.Get(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if sess == nil || !security.RefreshTokenHashEqual(refreshToken, sess.RefreshHash) {
		return nil, security.ErrInvalidToken
	}

	if err := g.registry.Revoke(ctx, claims.ID, revocation.ReasonRotation); err != nil {
		return nil, err
	}
	return g.IssueSession(ctx, claims.Subject, claims.OrgID, reqCtx)
}

// RevokeSession removes one session and blocklists its JTI.
func (g *Guard) RevokeSession(ctx context.Context, jti string, reason revocation.Reason) error {
	if err := g.registry.Revoke(ctx, jti, reason); err != nil {
		return err
	}
	g.logRevocation(ctx, "", "", jti, reason)
	return nil
}

// RevokeAllForUser kills every session of one user, e.g. after a security
// incident. Returns the number revoked.
func (g *Guard) RevokeAllForUser(ctx context.Context, orgID, userID string, reason revocation.Reason) (int, error) {
	n, err := g.registry.RevokeAllForUser(ctx, orgID, userID, reason)
	if err != nil {
		return n, err
	}
	g.logRevocation(ctx, orgID, userID, "", reason)
	return n, nil
}

// AssessRisk scores recent failure signals for a user and records the
// outcome. Callers aggregate the input counts from their own telemetry.
func (g *Guard) AssessRisk(ctx context.Context, orgID, userID string, in anomaly.RiskInput) anomaly.RiskLevel {
	if g.risk == nil {
		return anomaly.RiskLow
	}
	level := g.risk.Evaluate(ctx, orgID, in)
	if g.events != nil {
		severity := event.SeverityInfo
		if level == anomaly.RiskHigh {
			severity = event.SeverityWarn
		}
		g.events.Log(ctx, &event.SecurityEvent{
			Action:   event.ActionRiskAssessed,
			Severity: severity,
			UserID:   userID,
			OrgID:    orgID,
			Details: map[string]any{
				"level":               string(level),
				"failedAuthCount":     in.FailedAuthCount,
				"deviceChanges":       in.DeviceChanges,
				"rateLimitViolations": in.RateLimitViolations,
			},
		})
	}
	return level
}

func (g *Guard) logRevocation(ctx context.Context, orgID, userID, jti string, reason revocation.Reason) {
	if g.events == nil {
		return
	}
	g.events.Log(ctx, &event.SecurityEvent{
		Action:   event.ActionTokenRevoked,
		Severity: event.SeverityInfo,
		UserID:   userID,
		OrgID:    orgID,
		Details: map[string]any{
			"jti":    jti,
			"reason": string(reason),
		},
	})
}
