// Package securitycore assembles the session-security components into the
// in-process surface the auth flow consumes: token issuance with concurrency
// enforcement, per-request revocation and rate-limit checks, and explicit
// revocation. The HTTP layer calls the Guard; everything behind it shares
// one Redis for state and one event pipeline for audit.
package securitycore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	otellog "go.opentelemetry.io/otel/log"

	"truxe/security-core/internal/anomaly"
	"truxe/security-core/internal/config"
	"truxe/security-core/internal/db"
	"truxe/security-core/internal/event"
	"truxe/security-core/internal/guard"
	"truxe/security-core/internal/kv"
	"truxe/security-core/internal/plan"
	"truxe/security-core/internal/ratelimit"
	"truxe/security-core/internal/revocation"
	"truxe/security-core/internal/security"
	"truxe/security-core/internal/session"
)

// Core is the wired security subsystem. Close releases its connections.
type Core struct {
	Guard    *guard.Guard
	Registry *session.Registry
	Limiter  *ratelimit.Limiter
	Events   *event.Logger

	redis *redis.Client
	pg    *sql.DB
	kafka *event.KafkaSink
	audit *event.PostgresSink
}

// Options carries the external collaborators the core cannot construct
// itself.
type Options struct {
	// Resolver provides IP geolocation for the impossible-travel check.
	// Nil disables the check (it fails open by design).
	Resolver anomaly.Resolver
	// RiskPolicies loads org-specific Rego risk policies. Nil uses the
	// embedded default policy.
	RiskPolicies anomaly.PolicySource
	// Logs, when set, exports security events as OTel log records in
	// addition to the configured sinks.
	Logs otellog.LoggerProvider
}

// New wires the core from config: Redis for volatile state, Postgres (when
// configured) for reference data and the audit trail, Kafka (when
// configured) for the event pipeline.
func New(cfg *config.Config, opts Options) (*Core, error) {
	rdb, err := kv.Open(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	timeout := cfg.StoreTimeout()

	var pg *sql.DB
	var limits session.LimitSource
	var users guard.UserSource
	var audit *event.PostgresSink
	sinks := []event.Sink{}
	if cfg.DatabaseURL != "" {
		pg, err = db.Open(cfg.DatabaseURL)
		if err != nil {
			_ = rdb.Close()
			return nil, err
		}
		ref := db.NewRefStore(pg)
		limits = plan.NewLimits(ref, plan.Parse(cfg.DefaultPlanTier, plan.TierFree))
		users = ref
		audit = event.NewPostgresSink(pg)
		sinks = append(sinks, audit)
	} else {
		limits = plan.NewLimits(nil, plan.Parse(cfg.DefaultPlanTier, plan.TierFree))
	}
	kafkaSink := event.NewKafkaSink(cfg.KafkaBrokersList(), cfg.EventKafkaTopic)
	if kafkaSink != nil {
		sinks = append(sinks, kafkaSink)
	}
	if otlp := event.NewOTLPSink(opts.Logs); otlp != nil {
		sinks = append(sinks, otlp)
	}

	events := event.NewLogger(event.LoggerOptions{
		QueueSize: cfg.EventQueueSize,
		Sync:      cfg.EventSyncMode,
	}, sinks...)

	privKey, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("jwt private key: %w", err)
	}
	pubKey, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("jwt public key: %w", err)
	}
	tokens := security.NewTokenProvider(privKey, pubKey, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL())

	revocations := revocation.NewRedisStore(rdb, timeout)

	emergency := ratelimit.NewEmergency(cfg.EmergencyThreshold, cfg.EmergencyFactor, cfg.EmergencyHoldDuration())
	limiter := ratelimit.NewLimiter(
		ratelimit.NewRedisCounterStore(rdb, timeout),
		ratelimit.DefaultRules(cfg.RateLimitFailOpen),
		emergency,
		events,
	)

	registry := session.NewRegistry(
		session.NewRedisStore(rdb, timeout),
		kv.NewLocker(rdb, 0),
		revocations,
		limits,
		events,
		session.ScoringConfig{
			RecencyWindow:    cfg.RecencyWindow(),
			StableMatchBonus: cfg.ScoreStableDeviceBonus,
			SubnetMatchBonus: cfg.ScoreIPMatchBonus,
			StalenessAge:     cfg.StalenessAge(),
			StalenessPenalty: cfg.ScoreStalenessPenalty,
		},
	)

	var detector guard.TravelDetector
	if opts.Resolver != nil {
		detector = anomaly.NewDetector(
			opts.Resolver,
			anomaly.NewRedisLocationStore(rdb, timeout),
			events,
			cfg.ImpossibleTravelSpeedKMH,
			cfg.GeoResolveTimeout(),
		)
	}
	risk := anomaly.NewRiskEvaluator(opts.RiskPolicies)

	g := guard.New(tokens, revocations, limiter, registry, users, detector, risk, events)

	return &Core{
		Guard:    g,
		Registry: registry,
		Limiter:  limiter,
		Events:   events,
		redis:    rdb,
		pg:       pg,
		kafka:    kafkaSink,
		audit:    audit,
	}, nil
}

// AuditTrail returns persisted security events for an org, newest first.
// Requires durable storage; returns an error when DATABASE_URL is unset.
func (c *Core) AuditTrail(ctx context.Context, orgID string, limit, offset int32) ([]*event.SecurityEvent, error) {
	if c.audit == nil {
		return nil, errors.New("securitycore: audit storage is not configured")
	}
	return c.audit.ListByOrg(ctx, orgID, limit, offset)
}

// Close drains the event queue and closes the backing connections.
func (c *Core) Close() error {
	c.Events.Close()
	err := c.kafka.Close()
	if rErr := c.redis.Close(); err == nil {
		err = rErr
	}
	if c.pg != nil {
		if dbErr := c.pg.Close(); err == nil {
			err = dbErr
		}
	}
	return err
}
