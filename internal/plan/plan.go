// Package plan maps org plan tiers to session concurrency limits.
package plan

import "strings"

// Tier is a closed set of plan tiers. String comparisons stay inside this
// package; everything else branches on the typed constant.
type Tier string

const (
	TierFree       Tier = "free"
	TierStarter    Tier = "starter"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
	TierUnlimited  Tier = "unlimited"
)

// sessionLimits maps each tier to its max concurrent sessions per user.
// 0 means unlimited.
var sessionLimits = map[Tier]int{
	TierFree:       3,
	TierStarter:    5,
	TierPro:        10,
	TierEnterprise: 25,
	TierUnlimited:  0,
}

// Parse returns the tier for s, falling back to fallback when s is empty or
// not a known tier.
func Parse(s string, fallback Tier) Tier {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := sessionLimits[t]; ok {
		return t
	}
	return fallback
}

// SessionLimit returns the max concurrent sessions per user for t.
// 0 means unlimited (no eviction).
func (t Tier) SessionLimit() int {
	if n, ok := sessionLimits[t]; ok {
		return n
	}
	return sessionLimits[TierFree]
}

// Unlimited reports whether t has no session cap.
func (t Tier) Unlimited() bool {
	return t.SessionLimit() == 0
}
