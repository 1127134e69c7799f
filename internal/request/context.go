// Package request defines the RequestContext parsed once at the HTTP boundary.
package request

import (
	"net"
	"net/http"
	"strings"
)

// Context holds the request metadata the security core consumes.
// All fields are optional; missing values degrade to "unknown" classifications
// downstream instead of failing the request.
type Context struct {
	IP             string
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string
	// Email identifies unauthenticated flows (e.g. magic-link request) for per-email rate limiting.
	Email string
}

// FromHTTP extracts a Context from an inbound request. The client IP is taken
// from the first X-Forwarded-For hop when present, else from RemoteAddr.
func FromHTTP(r *http.Request) Context {
	if r == nil {
		return Context{}
	}
	return Context{
		IP:             clientIP(r),
		UserAgent:      r.Header.Get("User-Agent"),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		AcceptEncoding: r.Header.Get("Accept-Encoding"),
	}
}

// ValidIP reports whether the context carries a parseable IP address.
func (c Context) ValidIP() bool {
	return net.ParseIP(c.IP) != nil
}

// Subnet24 returns the /24 network for IPv4 addresses (e.g. "1.2.3.0/24"),
// or the address itself for IPv6 and unparseable input. Used for IP-affinity
// comparisons that should tolerate DHCP churn within a subnet.
func (c Context) Subnet24() string {
	return Subnet24(c.IP)
}

// Subnet24 returns the /24 network for an IPv4 address, or the input unchanged
// when it is IPv6 or unparseable.
func Subnet24(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ip
	}
	v4 := parsed.To4()
	if v4 == nil {
		return ip
	}
	masked := v4.Mask(net.CIDRMask(24, 32))
	return masked.String() + "/24"
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr without a port (e.g. in tests).
		if net.ParseIP(r.RemoteAddr) != nil {
			return r.RemoteAddr
		}
		return ""
	}
	return host
}
