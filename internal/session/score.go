package session

import (
	"time"

	"truxe/security-core/internal/fingerprint"
	"truxe/security-core/internal/request"
)

// ScoringConfig weights the eviction score. Higher scores survive; when the
// registry is over the cap the lowest-scoring session is evicted. Exact
// weights are deployment-tunable, not load-bearing constants.
type ScoringConfig struct {
	// RecencyWindow is the span over which the recency base decays linearly
	// from 1 to 0, measured from LastUsedAt.
	RecencyWindow time.Duration
	// StableMatchBonus is added when the session's stable fingerprint matches
	// the incoming device.
	StableMatchBonus float64
	// SubnetMatchBonus is added when the session's IP shares a /24 with the
	// incoming request.
	SubnetMatchBonus float64
	// StalenessAge is the session age past which StalenessPenalty applies.
	StalenessAge time.Duration
	// StalenessPenalty is subtracted from sessions older than StalenessAge.
	StalenessPenalty float64
}

// DefaultScoring returns the shipped weights.
func DefaultScoring() ScoringConfig {
	return ScoringConfig{
		RecencyWindow:    24 * time.Hour,
		StableMatchBonus: 0.3,
		SubnetMatchBonus: 0.15,
		StalenessAge:     168 * time.Hour,
		StalenessPenalty: 0.25,
	}
}

// Score rates an existing session against the incoming device and IP.
func (c ScoringConfig) Score(s *Session, device fingerprint.DeviceFingerprint, ip string, now time.Time) float64 {
	window := c.RecencyWindow
	if window <= 0 {
		window = 24 * time.Hour
	}
	idle := now.Sub(s.LastUsedAt)
	if idle < 0 {
		idle = 0
	}
	score := 1 - float64(idle)/float64(window)
	if score < 0 {
		score = 0
	}

	if s.Device.StableFingerprint != "" && s.Device.StableFingerprint == device.StableFingerprint {
		score += c.StableMatchBonus
	}
	if s.IP != "" && request.Subnet24(s.IP) == request.Subnet24(ip) {
		score += c.SubnetMatchBonus
	}
	if c.StalenessAge > 0 && now.Sub(s.CreatedAt) > c.StalenessAge {
		score -= c.StalenessPenalty
	}
	return score
}

// pickEviction returns the session to evict: lowest score, then earliest
// CreatedAt, then lowest JTI. The ordering is total so concurrent evaluators
// agree on the victim.
func pickEviction(sessions []*Session, cfg ScoringConfig, device fingerprint.DeviceFingerprint, ip string, now time.Time) *Session {
	var victim *Session
	var victimScore float64
	for _, s := range sessions {
		score := cfg.Score(s, device, ip, now)
		if victim == nil || score < victimScore ||
			(score == victimScore && s.CreatedAt.Before(victim.CreatedAt)) ||
			(score == victimScore && s.CreatedAt.Equal(victim.CreatedAt) && s.JTI < victim.JTI) {
			victim = s
			victimScore = score
		}
	}
	return victim
}
