package session

import (
	"math"
	"testing"
	"time"

	"truxe/security-core/internal/fingerprint"
)

func TestScore(t *testing.T) {
	cfg := DefaultScoring()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	incoming := deviceFP("dev-a")

	tests := []struct {
		name string
		sess *Session
		want float64
	}{
		{
			"fresh session no matches",
			&Session{Device: deviceFP("dev-x"), IP: "9.9.9.9", CreatedAt: now, LastUsedAt: now},
			1.0,
		},
		{
			"half window idle",
			&Session{Device: deviceFP("dev-x"), IP: "9.9.9.9", CreatedAt: now, LastUsedAt: now.Add(-12 * time.Hour)},
			0.5,
		},
		{
			"idle past window floors at zero",
			&Session{Device: deviceFP("dev-x"), IP: "9.9.9.9", CreatedAt: now, LastUsedAt: now.Add(-48 * time.Hour)},
			0,
		},
		{
			"stable device bonus",
			&Session{Device: deviceFP("dev-a"), IP: "9.9.9.9", CreatedAt: now, LastUsedAt: now},
			1.3,
		},
		{
			"same subnet bonus",
			&Session{Device: deviceFP("dev-x"), IP: "1.2.3.200", CreatedAt: now, LastUsedAt: now},
			1.15,
		},
		{
			"stale session penalty",
			&Session{Device: deviceFP("dev-x"), IP: "9.9.9.9", CreatedAt: now.Add(-200 * time.Hour), LastUsedAt: now},
			0.75,
		},
		{
			"all effects stack",
			&Session{Device: deviceFP("dev-a"), IP: "1.2.3.200", CreatedAt: now.Add(-200 * time.Hour), LastUsedAt: now.Add(-12 * time.Hour)},
			0.5 + 0.3 + 0.15 - 0.25,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cfg.Score(tt.sess, incoming, "1.2.3.4", now)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Score = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScore_EmptyStableFingerprintNoBonus(t *testing.T) {
	cfg := DefaultScoring()
	now := time.Now().UTC()
	sess := &Session{Device: fingerprint.DeviceFingerprint{}, IP: "9.9.9.9", CreatedAt: now, LastUsedAt: now}
	got := cfg.Score(sess, fingerprint.DeviceFingerprint{}, "1.2.3.4", now)
	if math.Abs(got-1.0) > 1e-9 {
		t.Errorf("two empty stable fingerprints must not match each other: score = %v", got)
	}
}

func TestPickEviction_LowestScore(t *testing.T) {
	cfg := DefaultScoring()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	sessions := []*Session{
		{JTI: "a", Device: deviceFP("x"), IP: "9.9.9.9", CreatedAt: now, LastUsedAt: now},
		{JTI: "b", Device: deviceFP("x"), IP: "9.9.9.9", CreatedAt: now, LastUsedAt: now.Add(-20 * time.Hour)},
		{JTI: "c", Device: deviceFP("x"), IP: "9.9.9.9", CreatedAt: now, LastUsedAt: now.Add(-2 * time.Hour)},
	}
	if v := pickEviction(sessions, cfg, deviceFP("dev"), "1.2.3.4", now); v.JTI != "b" {
		t.Errorf("victim = %s, want b (least recently used)", v.JTI)
	}
}

func TestPickEviction_TieBreaksOnCreatedAtThenJTI(t *testing.T) {
	cfg := DefaultScoring()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	// Identical scores, different creation times.
	sessions := []*Session{
		{JTI: "newer", Device: deviceFP("x"), IP: "9.9.9.9", CreatedAt: now.Add(-time.Hour), LastUsedAt: now},
		{JTI: "older", Device: deviceFP("x"), IP: "9.9.9.9", CreatedAt: now.Add(-2 * time.Hour), LastUsedAt: now},
	}
	if v := pickEviction(sessions, cfg, deviceFP("dev"), "1.2.3.4", now); v.JTI != "older" {
		t.Errorf("victim = %s, want older (earliest CreatedAt)", v.JTI)
	}

	// Fully identical except JTI: the ordering stays total.
	created := now.Add(-time.Hour)
	sessions = []*Session{
		{JTI: "b", Device: deviceFP("x"), IP: "9.9.9.9", CreatedAt: created, LastUsedAt: now},
		{JTI: "a", Device: deviceFP("x"), IP: "9.9.9.9", CreatedAt: created, LastUsedAt: now},
	}
	if v := pickEviction(sessions, cfg, deviceFP("dev"), "1.2.3.4", now); v.JTI != "a" {
		t.Errorf("victim = %s, want a (lowest JTI)", v.JTI)
	}
}
