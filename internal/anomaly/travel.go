// Package anomaly evaluates new session context against the user's history:
// impossible-travel detection from geolocation deltas and Rego-driven risk
// scoring over recent failure signals. Both are detection signals, not access
// gates, so unresolvable inputs fail open.
package anomaly

import (
	"context"
	"math"
	"time"

	"truxe/security-core/internal/event"
	"truxe/security-core/internal/request"
)

const earthRadiusKm = 6371.0

// Location is a resolved geographic point for an IP address.
type Location struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	City    string  `json:"city,omitempty"`
	Country string  `json:"country,omitempty"`
}

// Resolver maps an IP address to a location. Implementations are external
// (MaxMind, ipinfo, etc.) and potentially slow; the detector bounds every
// call with its configured timeout. A nil location with nil error means the
// IP could not be resolved.
type Resolver interface {
	Resolve(ctx context.Context, ip string) (*Location, error)
}

// LastSeen is the most recent known location for a user, kept in the
// volatile store so every API instance sees the same history.
type LastSeen struct {
	Location Location  `json:"location"`
	IP       string    `json:"ip"`
	At       time.Time `json:"at"`
}

// LocationStore persists per-user last-seen locations.
type LocationStore interface {
	Last(ctx context.Context, userID string) (*LastSeen, error)
	Save(ctx context.Context, userID string, seen LastSeen) error
}

// TravelResult reports the impossible-travel evaluation for one login.
type TravelResult struct {
	ImpossibleTravel bool    `json:"impossibleTravel"`
	DistanceKm       float64 `json:"distanceKm,omitempty"`
	RequiredSpeedKmh float64 `json:"requiredSpeedKmh,omitempty"`
}

// Detector flags logins whose implied travel speed from the previous login
// exceeds a plausibility threshold.
type Detector struct {
	resolver       Resolver
	locations      LocationStore
	events         *event.Logger
	speedKmh       float64
	resolveTimeout time.Duration
}

// NewDetector returns a Detector. speedKmh is the required-speed threshold
// above which travel is flagged; zero or negative selects the 1000 km/h
// default. resolveTimeout bounds each Resolver call.
func NewDetector(resolver Resolver, locations LocationStore, events *event.Logger, speedKmh float64, resolveTimeout time.Duration) *Detector {
	if speedKmh <= 0 {
		speedKmh = 1000
	}
	if resolveTimeout <= 0 {
		resolveTimeout = 200 * time.Millisecond
	}
	return &Detector{
		resolver:       resolver,
		locations:      locations,
		events:         events,
		speedKmh:       speedKmh,
		resolveTimeout: resolveTimeout,
	}
}

// ImpossibleTravel compares the request's resolved location against the
// user's last known one and flags the login when the implied speed exceeds
// the threshold. Resolution failures and first-time logins return a negative
// result; the error return is reserved for location-store failures, which
// callers may ignore since this is a signal, not a gate.
func (d *Detector) ImpossibleTravel(ctx context.Context, userID string, reqCtx request.Context, at time.Time) (TravelResult, error) {
	loc := d.resolve(ctx, reqCtx)
	if loc == nil {
		d.logCheck(ctx, userID, reqCtx.IP, TravelResult{})
		return TravelResult{}, nil
	}

	last, err := d.locations.Last(ctx, userID)
	if err != nil {
		return TravelResult{}, err
	}

	res := TravelResult{}
	if last != nil && at.After(last.At) {
		res.DistanceKm = haversineKm(last.Location, *loc)
		elapsed := at.Sub(last.At)
		if elapsed < time.Second {
			elapsed = time.Second
		}
		res.RequiredSpeedKmh = res.DistanceKm / elapsed.Hours()
		res.ImpossibleTravel = res.RequiredSpeedKmh > d.speedKmh
	}

	if err := d.locations.Save(ctx, userID, LastSeen{Location: *loc, IP: reqCtx.IP, At: at}); err != nil {
		return res, err
	}

	d.logCheck(ctx, userID, reqCtx.IP, res)
	return res, nil
}

// resolve calls the external resolver with a strict timeout. Any failure
// disables the check for this request.
func (d *Detector) resolve(ctx context.Context, reqCtx request.Context) *Location {
	if d.resolver == nil || !reqCtx.ValidIP() {
		return nil
	}
	opCtx, cancel := context.WithTimeout(ctx, d.resolveTimeout)
	defer cancel()
	loc, err := d.resolver.Resolve(opCtx, reqCtx.IP)
	if err != nil {
		return nil
	}
	return loc
}

func (d *Detector) logCheck(ctx context.Context, userID, ip string, res TravelResult) {
	if d.events == nil {
		return
	}
	action := event.ActionTravelChecked
	severity := event.SeverityInfo
	if res.ImpossibleTravel {
		action = event.ActionImpossibleTravel
		severity = event.SeverityWarn
	}
	d.events.Log(ctx, &event.SecurityEvent{
		Action:   action,
		Severity: severity,
		UserID:   userID,
		Details: map[string]any{
			"ip":               ip,
			"impossibleTravel": res.ImpossibleTravel,
			"distanceKm":       res.DistanceKm,
			"requiredSpeedKmh": res.RequiredSpeedKmh,
		},
	})
}

// haversineKm computes the great-circle distance between two points.
func haversineKm(a, b Location) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
