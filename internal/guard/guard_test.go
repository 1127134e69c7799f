package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"truxe/security-core/internal/anomaly"
	"truxe/security-core/internal/db"
	"truxe/security-core/internal/kv"
	"truxe/security-core/internal/ratelimit"
	"truxe/security-core/internal/request"
	"truxe/security-core/internal/revocation"
	"truxe/security-core/internal/security"
	"truxe/security-core/internal/session"
)

type stubLimiter struct {
	allowed bool
	scope   ratelimit.Scope
	err     error
	calls   int
}

func (l *stubLimiter) Consume(ctx context.Context, req ratelimit.Request) (ratelimit.Result, error) {
	l.calls++
	if l.err != nil {
		return ratelimit.Result{}, l.err
	}
	return ratelimit.Result{Allowed: l.allowed, Scope: l.scope}, nil
}

type stubDetector struct {
	result anomaly.TravelResult
	err    error
}

func (d *stubDetector) ImpossibleTravel(ctx context.Context, userID string, reqCtx request.Context, at time.Time) (anomaly.TravelResult, error) {
	return d.result, d.err
}

// failingRevocations simulates an unreachable revocation store.
type failingRevocations struct{}

func (failingRevocations) Revoke(ctx context.Context, jti string, reason revocation.Reason, ttl time.Duration) error {
	return kv.ErrStoreUnavailable
}

func (failingRevocations) IsRevoked(ctx context.Context, jti string) (revocation.Status, error) {
	return revocation.Status{}, kv.ErrStoreUnavailable
}

type limitAll int

func (l limitAll) SessionLimit(ctx context.Context, orgID string) (int, error) {
	return int(l), nil
}

type guardFixture struct {
	guard   *Guard
	tokens  *security.TokenProvider
	store   *session.MemoryStore
	revs    *revocation.MemoryStore
	limiter *stubLimiter
}

func newFixture(t *testing.T) *guardFixture {
	t.Helper()
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	store := session.NewMemoryStore()
	revs := revocation.NewMemoryStore()
	registry := session.NewRegistry(store, nil, revs, limitAll(10), nil, session.DefaultScoring())
	limiter := &stubLimiter{allowed: true}
	g := New(tokens, revs, limiter, registry, nil, nil, nil, nil)
	return &guardFixture{guard: g, tokens: tokens, store: store, revs: revs, limiter: limiter}
}

var loginCtx = request.Context{
	IP:        "1.2.3.4",
	UserAgent: "Mozilla/5.0 (X11; Linux x86_64) Chrome/120.0",
	Email:     "user@example.com",
}

func TestIssueSessionAndCheckRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	grant, err := f.guard.IssueSession(ctx, "user-1", "org-1", loginCtx)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if grant.Session.JTI != grant.Tokens.JTI {
		t.Error("session must be keyed by the token pair's JTI")
	}
	if grant.Session.Device.Fingerprint == "" {
		t.Error("session should carry the device fingerprint")
	}

	claims, err := f.guard.CheckRequest(ctx, grant.Tokens.AccessToken, loginCtx, "api")
	if err != nil {
		t.Fatalf("CheckRequest: %v", err)
	}
	if claims.Subject != "user-1" || claims.OrgID != "org-1" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestCheckRequest_InvalidToken(t *testing.T) {
	f := newFixture(t)
	if _, err := f.guard.CheckRequest(context.Background(), "garbage", loginCtx, "api"); !errors.Is(err, security.ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestCheckRequest_RevokedToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	grant, _ := f.guard.IssueSession(ctx, "user-1", "org-1", loginCtx)
	if err := f.guard.RevokeSession(ctx, grant.Tokens.JTI, revocation.ReasonUserLogout); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}

	if _, err := f.guard.CheckRequest(ctx, grant.Tokens.AccessToken, loginCtx, "api"); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("err = %v, want ErrTokenRevoked", err)
	}
}

func TestCheckRequest_RevocationStoreDownFailsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	grant, _ := f.guard.IssueSession(ctx, "user-1", "org-1", loginCtx)

	f.guard.revocations = failingRevocations{}
	if _, err := f.guard.CheckRequest(ctx, grant.Tokens.AccessToken, loginCtx, "api"); !errors.Is(err, kv.ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable (fail closed)", err)
	}
}

func TestCheckRequest_RateLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	grant, _ := f.guard.IssueSession(ctx, "user-1", "org-1", loginCtx)

	f.limiter.allowed = false
	f.limiter.scope = ratelimit.ScopeUser
	if _, err := f.guard.CheckRequest(ctx, grant.Tokens.AccessToken, loginCtx, "api"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
}

func TestCheckRequest_TouchesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	grant, _ := f.guard.IssueSession(ctx, "user-1", "org-1", loginCtx)

	time.Sleep(2 * time.Millisecond)
	if _, err := f.guard.CheckRequest(ctx, grant.Tokens.AccessToken, loginCtx, "api"); err != nil {
		t.Fatalf("CheckRequest: %v", err)
	}

	sess, _ := f.store.Get(ctx, grant.Tokens.JTI)
	if sess == nil {
		t.Fatal("session should still exist")
	}
	if !sess.LastUsedAt.After(sess.CreatedAt) {
		t.Error("CheckRequest should touch the session")
	}
}

func TestIssueSession_RateLimitedLogin(t *testing.T) {
	f := newFixture(t)
	f.limiter.allowed = false
	f.limiter.scope = ratelimit.ScopeEmail
	if _, err := f.guard.IssueSession(context.Background(), "user-1", "org-1", loginCtx); !errors.Is(err, ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
}

func TestIssueSession_TravelSignalNeverBlocks(t *testing.T) {
	f := newFixture(t)
	f.guard.detector = &stubDetector{result: anomaly.TravelResult{
		ImpossibleTravel: true,
		DistanceKm:       8000,
		RequiredSpeedKmh: 96000,
	}}

	grant, err := f.guard.IssueSession(context.Background(), "user-1", "org-1", loginCtx)
	if err != nil {
		t.Fatalf("flagged travel must not block issuance: %v", err)
	}
	if !grant.Travel.ImpossibleTravel {
		t.Error("grant should carry the travel signal")
	}
}

func TestIssueSession_DetectorErrorIgnored(t *testing.T) {
	f := newFixture(t)
	f.guard.detector = &stubDetector{err: errors.New("geo lookup failed")}
	if _, err := f.guard.IssueSession(context.Background(), "user-1", "org-1", loginCtx); err != nil {
		t.Errorf("detector failure must not block issuance: %v", err)
	}
}

func TestRefreshSession_Rotates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	grant, _ := f.guard.IssueSession(ctx, "user-1", "org-1", loginCtx)

	renewed, err := f.guard.RefreshSession(ctx, grant.Tokens.RefreshToken, loginCtx)
	if err != nil {
		t.Fatalf("RefreshSession: %v", err)
	}
	if renewed.Tokens.JTI == grant.Tokens.JTI {
		t.Error("rotation must issue a fresh JTI")
	}

	// The old pair is dead: its JTI is blocklisted.
	status, _ := f.revs.IsRevoked(ctx, grant.Tokens.JTI)
	if !status.Revoked || status.Reason != revocation.ReasonRotation {
		t.Errorf("old JTI status = %+v, want revoked for rotation", status)
	}

	// Replaying the old refresh token fails.
	if _, err := f.guard.RefreshSession(ctx, grant.Tokens.RefreshToken, loginCtx); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("replay err = %v, want ErrTokenRevoked", err)
	}

	// The new pair works.
	if _, err := f.guard.CheckRequest(ctx, renewed.Tokens.AccessToken, loginCtx, "api"); err != nil {
		t.Errorf("renewed access token: %v", err)
	}
}

func TestRefreshSession_AccessTokenRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	grant, _ := f.guard.IssueSession(ctx, "user-1", "org-1", loginCtx)

	if _, err := f.guard.RefreshSession(ctx, grant.Tokens.AccessToken, loginCtx); !errors.Is(err, security.ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestRefreshSession_GoneSessionRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	grant, _ := f.guard.IssueSession(ctx, "user-1", "org-1", loginCtx)

	// Session evicted concurrently; its JTI is not yet revoked.
	f.store.Delete(ctx, "org-1", "user-1", grant.Tokens.JTI)

	if _, err := f.guard.RefreshSession(ctx, grant.Tokens.RefreshToken, loginCtx); !errors.Is(err, security.ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestRevokeAllForUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var tokens []string
	for i := 0; i < 3; i++ {
		grant, err := f.guard.IssueSession(ctx, "user-1", "org-1", loginCtx)
		if err != nil {
			t.Fatalf("IssueSession %d: %v", i, err)
		}
		tokens = append(tokens, grant.Tokens.AccessToken)
	}

	n, err := f.guard.RevokeAllForUser(ctx, "org-1", "user-1", revocation.ReasonSecurityIncident)
	if err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}
	if n != 3 {
		t.Errorf("revoked = %d, want 3", n)
	}
	for i, token := range tokens {
		if _, err := f.guard.CheckRequest(ctx, token, loginCtx, "api"); !errors.Is(err, ErrTokenRevoked) {
			t.Errorf("token %d: err = %v, want ErrTokenRevoked", i, err)
		}
	}
}

func TestAssessRisk_NoEvaluatorDefaultsLow(t *testing.T) {
	f := newFixture(t)
	level := f.guard.AssessRisk(context.Background(), "org-1", "user-1", anomaly.RiskInput{FailedAuthCount: 99})
	if level != anomaly.RiskLow {
		t.Errorf("level = %q, want low without an evaluator", level)
	}
}

func TestAssessRisk_WithEvaluator(t *testing.T) {
	f := newFixture(t)
	f.guard.risk = anomaly.NewRiskEvaluator(nil)
	level := f.guard.AssessRisk(context.Background(), "org-1", "user-1", anomaly.RiskInput{FailedAuthCount: 10})
	if level != anomaly.RiskHigh {
		t.Errorf("level = %q, want high", level)
	}
}

// stubUsers returns a canned reference record or error.
type stubUsers struct {
	user *db.User
	err  error
}

func (s *stubUsers) GetUser(ctx context.Context, id string) (*db.User, error) {
	return s.user, s.err
}

func TestIssueSession_SuspendedUserRejected(t *testing.T) {
	f := newFixture(t)
	f.guard.users = &stubUsers{user: &db.User{ID: "user-1", Status: "suspended"}}

	_, err := f.guard.IssueSession(context.Background(), "user-1", "org-1", loginCtx)
	if !errors.Is(err, ErrUserInactive) {
		t.Fatalf("err = %v, want ErrUserInactive", err)
	}
}

func TestIssueSession_UserLookupFailsClosed(t *testing.T) {
	f := newFixture(t)
	lookupErr := errors.New("reference db down")
	f.guard.users = &stubUsers{err: lookupErr}

	_, err := f.guard.IssueSession(context.Background(), "user-1", "org-1", loginCtx)
	if !errors.Is(err, lookupErr) {
		t.Fatalf("err = %v, want the lookup error surfaced", err)
	}
}

func TestIssueSession_UnknownUserAllowed(t *testing.T) {
	f := newFixture(t)
	f.guard.users = &stubUsers{} // no reference record

	grant, err := f.guard.IssueSession(context.Background(), "user-1", "org-1", loginCtx)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if grant.Session == nil {
		t.Fatal("expected a session for a user without reference data")
	}
}
