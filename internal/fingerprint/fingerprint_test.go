package fingerprint

import (
	"testing"

	"truxe/security-core/internal/request"
)

const chromeLinuxUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
const chromeLinuxBumpedUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

func TestGenerate_Deterministic(t *testing.T) {
	ctx := request.Context{
		IP:             "1.2.3.4",
		UserAgent:      chromeLinuxUA,
		AcceptLanguage: "en-US",
		AcceptEncoding: "gzip, br",
	}

	a := Generate(ctx)
	b := Generate(ctx)
	if a != b {
		t.Errorf("Generate is not deterministic: %+v vs %+v", a, b)
	}
	if a.Fingerprint == "" || a.StableFingerprint == "" {
		t.Fatal("fingerprints should be non-empty")
	}
	if a.Fingerprint == a.StableFingerprint {
		t.Error("volatile and stable fingerprints should differ in inputs")
	}
}

func TestGenerate_Classification(t *testing.T) {
	fp := Generate(request.Context{UserAgent: chromeLinuxUA, IP: "1.2.3.4"})
	if fp.Browser != "Chrome" {
		t.Errorf("Browser = %q, want Chrome", fp.Browser)
	}
	if fp.OS != "Linux" {
		t.Errorf("OS = %q, want Linux", fp.OS)
	}
	if fp.Device != "desktop" {
		t.Errorf("Device = %q, want desktop", fp.Device)
	}
}

func TestGenerate_StableSurvivesVersionBump(t *testing.T) {
	base := request.Context{IP: "1.2.3.4", AcceptLanguage: "en-US", AcceptEncoding: "gzip"}

	old := base
	old.UserAgent = chromeLinuxUA
	bumped := base
	bumped.UserAgent = chromeLinuxBumpedUA

	a := Generate(old)
	b := Generate(bumped)
	if a.Fingerprint == b.Fingerprint {
		t.Error("volatile fingerprint should change on UA version bump")
	}
	if a.StableFingerprint != b.StableFingerprint {
		t.Error("stable fingerprint should survive UA version bump")
	}
}

func TestGenerate_VolatileIncludesIP(t *testing.T) {
	a := Generate(request.Context{UserAgent: chromeLinuxUA, IP: "1.2.3.4"})
	b := Generate(request.Context{UserAgent: chromeLinuxUA, IP: "5.6.7.8"})
	if a.Fingerprint == b.Fingerprint {
		t.Error("volatile fingerprint should change with IP")
	}
	if a.StableFingerprint != b.StableFingerprint {
		t.Error("stable fingerprint should not depend on IP")
	}
}

func TestGenerate_MissingUA(t *testing.T) {
	fp := Generate(request.Context{IP: "1.2.3.4"})
	if fp.Browser != Unknown || fp.OS != Unknown || fp.Device != Unknown {
		t.Errorf("missing UA should classify as unknown, got %+v", fp)
	}
	if fp.Fingerprint == "" || fp.StableFingerprint == "" {
		t.Error("fingerprints should still be computed for missing UA")
	}
}

func TestGenerate_GarbageUA(t *testing.T) {
	fp := Generate(request.Context{UserAgent: "%%%not-a-real-agent%%%", IP: "1.2.3.4"})
	if fp.Browser != Unknown {
		t.Errorf("garbage UA browser = %q, want unknown", fp.Browser)
	}
	if fp.Fingerprint == "" {
		t.Error("fingerprint should still be computed for garbage UA")
	}
}
