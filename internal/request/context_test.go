package request

import (
	"net/http/httptest"
	"testing"
)

func TestFromHTTP_RemoteAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.1.2.3:51234"
	r.Header.Set("User-Agent", "test-agent")
	r.Header.Set("Accept-Language", "en-US")
	r.Header.Set("Accept-Encoding", "gzip")

	ctx := FromHTTP(r)
	if ctx.IP != "10.1.2.3" {
		t.Errorf("IP = %q, want %q", ctx.IP, "10.1.2.3")
	}
	if ctx.UserAgent != "test-agent" {
		t.Errorf("UserAgent = %q, want %q", ctx.UserAgent, "test-agent")
	}
	if ctx.AcceptLanguage != "en-US" {
		t.Errorf("AcceptLanguage = %q, want %q", ctx.AcceptLanguage, "en-US")
	}
	if ctx.AcceptEncoding != "gzip" {
		t.Errorf("AcceptEncoding = %q, want %q", ctx.AcceptEncoding, "gzip")
	}
}

func TestFromHTTP_XForwardedFor(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:443"
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	ctx := FromHTTP(r)
	if ctx.IP != "203.0.113.7" {
		t.Errorf("IP = %q, want first forwarded hop", ctx.IP)
	}
}

func TestFromHTTP_GarbageForwardedFallsBack(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:443"
	r.Header.Set("X-Forwarded-For", "not-an-ip")

	ctx := FromHTTP(r)
	if ctx.IP != "10.0.0.1" {
		t.Errorf("IP = %q, want RemoteAddr host", ctx.IP)
	}
}

func TestValidIP(t *testing.T) {
	testCases := []struct {
		ip   string
		want bool
	}{
		{"1.2.3.4", true},
		{"2001:db8::1", true},
		{"", false},
		{"garbage", false},
	}
	for _, tc := range testCases {
		ctx := Context{IP: tc.ip}
		if got := ctx.ValidIP(); got != tc.want {
			t.Errorf("ValidIP(%q) = %v, want %v", tc.ip, got, tc.want)
		}
	}
}

func TestSubnet24(t *testing.T) {
	testCases := []struct {
		ip   string
		want string
	}{
		{"1.2.3.4", "1.2.3.0/24"},
		{"1.2.3.200", "1.2.3.0/24"},
		{"2001:db8::1", "2001:db8::1"},
		{"garbage", "garbage"},
	}
	for _, tc := range testCases {
		if got := Subnet24(tc.ip); got != tc.want {
			t.Errorf("Subnet24(%q) = %q, want %q", tc.ip, got, tc.want)
		}
	}
}
