package identity

import (
	"net"
	"net/http"
	"strings"
)

// Unknown is returned when no candidate yields a syntactically valid address.
// Callers treat it as a shared low-trust identity rather than an error.
const Unknown = "unknown"

// Resolve extracts the canonical client address for a request.
// Precedence: CF-Connecting-IP -> X-Real-IP -> first valid non-private
// entry of X-Forwarded-For -> transport address -> "unknown".
// Never fails; malformed input degrades to the next candidate.
func Resolve(h http.Header, remoteAddr string) string {
	if cf := strings.TrimSpace(h.Get("CF-Connecting-IP")); cf != "" && IsValid(cf) {
		return Normalize(cf)
	}

	if xri := strings.TrimSpace(h.Get("X-Real-IP")); xri != "" && IsValid(xri) {
		return Normalize(xri)
	}

	if xff := h.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			ip := strings.TrimSpace(part)
			if ip != "" && IsValid(ip) && !IsPrivate(ip) {
				return Normalize(ip)
			}
		}
	}

	if host := stripPort(remoteAddr); host != "" && IsValid(host) {
		return Normalize(host)
	}

	return Unknown
}

func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// IsValid reports whether s is an IPv4 or IPv6 literal.
func IsValid(s string) bool {
	return net.ParseIP(s) != nil
}

// IsPrivate reports whether s is in a private, loopback, or link-local range.
func IsPrivate(s string) bool {
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}

// Normalize returns the canonical string form of an address so that
// equivalent literals map to the same identity.
func Normalize(s string) string {
	ip := net.ParseIP(s)
	if ip == nil {
		return s
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}

// Subnet returns the cluster prefix for an identity: the first three octets
// for IPv4, the /64 prefix for IPv6. Non-address identities map to
// themselves so they never cluster with real traffic.
func Subnet(s string) string {
	ip := net.ParseIP(s)
	if ip == nil {
		return s
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String() + "/24"
	}
	return ip.Mask(net.CIDRMask(64, 128)).String() + "/64"
}
