// Package fingerprint derives device identifiers from request metadata.
//
// Two fingerprints are produced per request: a volatile one over the full
// header set for strict matching and display, and a stable one over coarse
// browser/OS/device families that survives minor user-agent version bumps.
// Generation is a pure function of the request context; nothing is persisted
// here.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mileusna/useragent"

	"truxe/security-core/internal/request"
)

// Unknown is the classification recorded when the user agent is missing or unparseable.
const Unknown = "unknown"

// DeviceFingerprint identifies a requesting device/browser combination.
type DeviceFingerprint struct {
	// Fingerprint hashes the full user agent, accept headers, and IP.
	// Strict: changes whenever any attribute changes.
	Fingerprint string
	// StableFingerprint hashes coarse families only and survives version bumps
	// and IP churn. Used for anomaly comparisons and eviction scoring.
	StableFingerprint string
	Browser           string
	OS                string
	Device            string
}

// Generate computes both fingerprints for the given request context.
// Missing or malformed attributes degrade to "unknown"; Generate never fails.
func Generate(ctx request.Context) DeviceFingerprint {
	browser, os, device := classify(ctx.UserAgent)

	volatile := hash(ctx.UserAgent, ctx.AcceptLanguage, ctx.AcceptEncoding, ctx.IP)
	stable := hash(browser, os, device)

	return DeviceFingerprint{
		Fingerprint:       volatile,
		StableFingerprint: stable,
		Browser:           browser,
		OS:                os,
		Device:            device,
	}
}

// classify parses the user agent into browser family, OS family, and device class.
// Best-effort: anything the parser cannot identify is reported as "unknown".
func classify(ua string) (browser, os, device string) {
	browser, os, device = Unknown, Unknown, Unknown
	if strings.TrimSpace(ua) == "" {
		return
	}
	parsed := useragent.Parse(ua)
	if parsed.Name != "" {
		browser = parsed.Name
	}
	if parsed.OS != "" {
		os = parsed.OS
	}
	switch {
	case parsed.Bot:
		device = "bot"
	case parsed.Mobile:
		device = "mobile"
	case parsed.Tablet:
		device = "tablet"
	case parsed.Desktop:
		device = "desktop"
	}
	return
}

func hash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0}) // field separator so ("ab","c") != ("a","bc")
	}
	return hex.EncodeToString(h.Sum(nil))
}
