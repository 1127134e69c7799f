package plan

import (
	"context"
	"errors"
	"testing"
)

type mockTierSource struct {
	tiers map[string]string
	err   error
}

func (m *mockTierSource) GetOrgPlanTier(ctx context.Context, orgID string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.tiers[orgID], nil
}

func TestLimits_SessionLimit(t *testing.T) {
	src := &mockTierSource{tiers: map[string]string{
		"org-pro":       "pro",
		"org-unlimited": "unlimited",
		"org-junk":      "gold-plated",
	}}
	l := NewLimits(src, TierFree)
	ctx := context.Background()

	tests := []struct {
		orgID string
		want  int
	}{
		{"org-pro", 10},
		{"org-unlimited", 0},
		{"org-junk", 3},    // unknown tier string falls back
		{"org-missing", 3}, // unknown org falls back
	}
	for _, tt := range tests {
		got, err := l.SessionLimit(ctx, tt.orgID)
		if err != nil {
			t.Fatalf("SessionLimit(%s): %v", tt.orgID, err)
		}
		if got != tt.want {
			t.Errorf("SessionLimit(%s) = %d, want %d", tt.orgID, got, tt.want)
		}
	}
}

func TestLimits_SourceErrorPropagates(t *testing.T) {
	wantErr := errors.New("db down")
	l := NewLimits(&mockTierSource{err: wantErr}, TierFree)
	if _, err := l.SessionLimit(context.Background(), "org-1"); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestLimits_NilSourceUsesFallback(t *testing.T) {
	l := NewLimits(nil, TierStarter)
	got, err := l.SessionLimit(context.Background(), "any")
	if err != nil || got != 5 {
		t.Errorf("SessionLimit = %d, %v, want 5, nil", got, err)
	}
}
