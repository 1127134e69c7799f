package ratelimit

import (
	"sync"
	"time"
)

// Mode is the emergency controller's state. Transitions follow
// Normal → Degraded → Emergency → Normal, driven by the rolling global
// counter rather than per-request logic.
type Mode string

const (
	ModeNormal    Mode = "normal"
	ModeDegraded  Mode = "degraded"
	ModeEmergency Mode = "emergency"
)

// Emergency tracks global request pressure and reduces all layer limits
// multiplicatively while degraded. Recovery requires the rate to stay below
// the threshold for the hold duration.
type Emergency struct {
	mu        sync.Mutex
	mode      Mode
	threshold int64
	factor    float64
	hold      time.Duration
	// lastHigh is the last time the global count was at or above threshold.
	lastHigh time.Time
}

// NewEmergency returns a controller in Normal mode. threshold is the global
// per-window count that trips Degraded; double the threshold trips Emergency.
// factor is the Degraded limit multiplier; Emergency halves it again.
func NewEmergency(threshold int64, factor float64, hold time.Duration) *Emergency {
	if factor <= 0 || factor > 1 {
		factor = 0.2
	}
	if hold <= 0 {
		hold = 5 * time.Minute
	}
	return &Emergency{
		mode:      ModeNormal,
		threshold: threshold,
		factor:    factor,
		hold:      hold,
	}
}

// Observe feeds the current global window count and returns the resulting
// mode. Escalation is immediate; de-escalation waits out the hold duration.
func (e *Emergency) Observe(globalCount int64, now time.Time) Mode {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case globalCount >= 2*e.threshold:
		e.mode = ModeEmergency
		e.lastHigh = now
	case globalCount >= e.threshold:
		if e.mode == ModeNormal {
			e.mode = ModeDegraded
		}
		e.lastHigh = now
	default:
		if e.mode != ModeNormal && now.Sub(e.lastHigh) >= e.hold {
			e.mode = ModeNormal
		}
	}
	return e.mode
}

// State returns the current mode.
func (e *Emergency) State() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Factor returns the limit multiplier for the current mode: 1 in Normal,
// the configured factor in Degraded, half of it in Emergency.
func (e *Emergency) Factor() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.mode {
	case ModeDegraded:
		return e.factor
	case ModeEmergency:
		return e.factor / 2
	default:
		return 1
	}
}
