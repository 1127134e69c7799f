// Package event records security-relevant actions: revocations, evictions,
// anomalies, and rate-limit blocks. The log is append-only and best-effort;
// audit writes never fail a user-facing operation.
package event

import "time"

// Severity classifies how urgently an event needs attention.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// rank orders severities for threshold comparisons.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarn:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is at or above min.
func (s Severity) AtLeast(min Severity) bool {
	return s.rank() >= min.rank()
}

// ParseSeverity maps a config string to a Severity, defaulting to warn.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityInfo, SeverityWarn, SeverityCritical:
		return Severity(s)
	default:
		return SeverityWarn
	}
}

// Actions recorded by the security core.
const (
	ActionTokenRevoked     = "token_revoked"
	ActionSessionCreated   = "session_created"
	ActionSessionRevoked   = "session_revoked"
	ActionSessionEvicted   = "session_evicted"
	ActionRateLimited      = "rate_limited"
	ActionImpossibleTravel = "impossible_travel"
	ActionTravelChecked    = "travel_checked"
	ActionEmergencyMode    = "emergency_mode"
	ActionRiskAssessed     = "risk_assessed"
)

// SecurityEvent is one append-only audit record. Never mutated after Log.
type SecurityEvent struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"userId,omitempty"`
	OrgID     string         `json:"orgId,omitempty"`
	Action    string         `json:"action"`
	Severity  Severity       `json:"severity"`
	Details   map[string]any `json:"details,omitempty"`
}
