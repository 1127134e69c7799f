// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// RedisURL is the Redis DSN for the volatile security state store (e.g. redis://localhost:6379/0).
	RedisURL string `mapstructure:"REDIS_URL"`
	// DatabaseURL is the Postgres DSN for audit export and org/user reference data; empty disables durable storage.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// StoreTimeoutMS bounds every backing-store round trip in milliseconds (50–200 recommended).
	StoreTimeoutMS int `mapstructure:"STORE_TIMEOUT_MS"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA); used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim (e.g. "truxe-auth").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim (e.g. "truxe-api").
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h" for 7d).
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`

	// DefaultPlanTier is the plan tier assumed when an org has none recorded (free, starter, pro, enterprise, unlimited).
	DefaultPlanTier string `mapstructure:"DEFAULT_PLAN_TIER"`

	// ImpossibleTravelSpeedKMH is the required-speed threshold above which a login is flagged (default 1000).
	ImpossibleTravelSpeedKMH float64 `mapstructure:"IMPOSSIBLE_TRAVEL_SPEED_KMH"`
	// GeoResolveTimeoutMS bounds the external IP geolocation lookup in milliseconds.
	GeoResolveTimeoutMS int `mapstructure:"GEO_RESOLVE_TIMEOUT_MS"`

	// RateLimitFailOpen, when true, allows requests through on store failure for all scopes.
	// Default false: authentication endpoints fail closed. Read-only scopes can override per rule.
	RateLimitFailOpen bool `mapstructure:"RATE_LIMIT_FAIL_OPEN"`
	// EmergencyThreshold is the global requests-per-window high-water mark that trips degraded mode.
	EmergencyThreshold int64 `mapstructure:"EMERGENCY_THRESHOLD"`
	// EmergencyFactor multiplies all layer limits while degraded (0.1–0.5).
	EmergencyFactor float64 `mapstructure:"EMERGENCY_FACTOR"`
	// EmergencyHold is how long reduced limits stay in force after the rate drops (e.g. "5m").
	EmergencyHold string `mapstructure:"EMERGENCY_HOLD"`

	// ScoreRecencyWindow is the window over which session recency decays linearly (e.g. "24h").
	ScoreRecencyWindow string `mapstructure:"SCORE_RECENCY_WINDOW"`
	// ScoreStableDeviceBonus is added when a candidate session matches the new session's stable fingerprint.
	ScoreStableDeviceBonus float64 `mapstructure:"SCORE_STABLE_DEVICE_BONUS"`
	// ScoreIPMatchBonus is added when a candidate session shares the new session's /24 subnet.
	ScoreIPMatchBonus float64 `mapstructure:"SCORE_IP_MATCH_BONUS"`
	// ScoreStalenessPenalty is subtracted from sessions idle longer than SCORE_STALENESS_AGE.
	ScoreStalenessPenalty float64 `mapstructure:"SCORE_STALENESS_PENALTY"`
	// ScoreStalenessAge is the idle age beyond which a session is considered stale (e.g. "168h").
	ScoreStalenessAge string `mapstructure:"SCORE_STALENESS_AGE"`

	// EventQueueSize is the capacity of the async security-event queue; events are dropped when full.
	EventQueueSize int `mapstructure:"EVENT_QUEUE_SIZE"`
	// EventSyncMode forces synchronous event writes (compliance deployments). Default false.
	EventSyncMode bool `mapstructure:"EVENT_SYNC_MODE"`

	// Event pipeline (optional). When Kafka brokers are set, the logger also publishes events to Kafka.
	// EventKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	EventKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// EventKafkaTopic is the Kafka topic for security events (default truxe-security-events).
	EventKafkaTopic string `mapstructure:"SECURITY_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the event worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the event worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// AlertWebhookURL receives events at or above AlertSeverity; empty disables alerting.
	AlertWebhookURL string `mapstructure:"ALERT_WEBHOOK_URL"`
	// AlertSeverity is the minimum severity forwarded to the webhook (info, warn, critical).
	AlertSeverity string `mapstructure:"ALERT_SEVERITY"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables telemetry export.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("STORE_TIMEOUT_MS", 100)
	v.SetDefault("JWT_ISSUER", "truxe-auth")
	v.SetDefault("JWT_AUDIENCE", "truxe-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("DEFAULT_PLAN_TIER", "free")
	v.SetDefault("IMPOSSIBLE_TRAVEL_SPEED_KMH", 1000.0)
	v.SetDefault("GEO_RESOLVE_TIMEOUT_MS", 200)
	v.SetDefault("RATE_LIMIT_FAIL_OPEN", false)
	v.SetDefault("EMERGENCY_THRESHOLD", 10000)
	v.SetDefault("EMERGENCY_FACTOR", 0.2)
	v.SetDefault("EMERGENCY_HOLD", "5m")
	v.SetDefault("SCORE_RECENCY_WINDOW", "24h")
	v.SetDefault("SCORE_STABLE_DEVICE_BONUS", 0.3)
	v.SetDefault("SCORE_IP_MATCH_BONUS", 0.15)
	v.SetDefault("SCORE_STALENESS_PENALTY", 0.25)
	v.SetDefault("SCORE_STALENESS_AGE", "168h")
	v.SetDefault("EVENT_QUEUE_SIZE", 1024)
	v.SetDefault("EVENT_SYNC_MODE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("SECURITY_KAFKA_TOPIC", "truxe-security-events")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "truxe-security-worker")
	v.SetDefault("ALERT_WEBHOOK_URL", "")
	v.SetDefault("ALERT_SEVERITY", "warn")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("config: REDIS_URL must be set")
	}
	if cfg.StoreTimeoutMS <= 0 {
		cfg.StoreTimeoutMS = 100
	}
	if cfg.ImpossibleTravelSpeedKMH <= 0 {
		return nil, errors.New("config: IMPOSSIBLE_TRAVEL_SPEED_KMH must be positive")
	}
	if cfg.EmergencyFactor <= 0 || cfg.EmergencyFactor > 1 {
		return nil, errors.New("config: EMERGENCY_FACTOR must be in (0, 1]")
	}
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = 1024
	}
	switch cfg.AlertSeverity {
	case "info", "warn", "critical":
	default:
		return nil, errors.New("config: ALERT_SEVERITY must be info, warn, or critical")
	}

	return &cfg, nil
}

// StoreTimeout returns the backing-store timeout as a time.Duration.
func (c *Config) StoreTimeout() time.Duration {
	if c.StoreTimeoutMS <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(c.StoreTimeoutMS) * time.Millisecond
}

// GeoResolveTimeout returns the geolocation lookup timeout as a time.Duration.
func (c *Config) GeoResolveTimeout() time.Duration {
	if c.GeoResolveTimeoutMS <= 0 {
		return 200 * time.Millisecond
	}
	return time.Duration(c.GeoResolveTimeoutMS) * time.Millisecond
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTRefreshTTL)
	if err != nil || d <= 0 {
		return 168 * time.Hour
	}
	return d
}

// EmergencyHoldDuration parses EmergencyHold. Returns 5m if unset or invalid.
func (c *Config) EmergencyHoldDuration() time.Duration {
	d, err := time.ParseDuration(c.EmergencyHold)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// RecencyWindow parses ScoreRecencyWindow. Returns 24h if unset or invalid.
func (c *Config) RecencyWindow() time.Duration {
	d, err := time.ParseDuration(c.ScoreRecencyWindow)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// StalenessAge parses ScoreStalenessAge. Returns 168h if unset or invalid.
func (c *Config) StalenessAge() time.Duration {
	d, err := time.ParseDuration(c.ScoreStalenessAge)
	if err != nil || d <= 0 {
		return 168 * time.Hour
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if event publishing is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.EventKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.EventKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
