package plan

import "context"

// TierSource looks up a tenant's plan tier string. db.RefStore is the
// production implementation; an empty result means the org is unknown.
type TierSource interface {
	GetOrgPlanTier(ctx context.Context, orgID string) (string, error)
}

// Limits resolves per-org session limits from a TierSource, implementing
// the session registry's LimitSource.
type Limits struct {
	source   TierSource
	fallback Tier
}

// NewLimits returns a Limits using fallback for unknown orgs and unknown
// tier strings.
func NewLimits(source TierSource, fallback Tier) *Limits {
	if fallback == "" {
		fallback = TierFree
	}
	return &Limits{source: source, fallback: fallback}
}

// SessionLimit returns the org's max concurrent sessions per user; 0 means
// unlimited. Lookup errors propagate so session creation fails closed
// rather than defaulting a paying tenant to the free cap.
func (l *Limits) SessionLimit(ctx context.Context, orgID string) (int, error) {
	if l.source == nil {
		return l.fallback.SessionLimit(), nil
	}
	tier, err := l.source.GetOrgPlanTier(ctx, orgID)
	if err != nil {
		return 0, err
	}
	return Parse(tier, l.fallback).SessionLimit(), nil
}
