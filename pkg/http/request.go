package http

import (
	"net"
	"net/http"
	"strings"
)

// MaxUserAgentLength caps the user agent stored with attempts and sessions
const MaxUserAgentLength = 512

// ClientResolver derives the caller's address for blocking and throttling
// decisions. Forwarding headers are honoured only when the direct peer sits
// inside a trusted proxy range, otherwise a client could pick its own IP and
// walk around an active block.
type ClientResolver struct {
	trusted []*net.IPNet
}

// NewClientResolver parses the trusted proxy CIDR ranges. Invalid ranges are skipped.
func NewClientResolver(trustedProxies []string) *ClientResolver {
	resolver := &ClientResolver{}
	for _, cidr := range trustedProxies {
		_, ipNet, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			continue
		}
		resolver.trusted = append(resolver.trusted, ipNet)
	}
	return resolver
}

// ClientIP returns the client address for r.
//
// Flow:
// 1. If the peer is a trusted proxy, walk X-Forwarded-For from the right and
// take the first valid entry outside the trusted ranges
// 2. If the peer is a trusted proxy, take a valid untrusted X-Real-IP
// 3. Fall back to RemoteAddr
//
// Entries left of the nearest untrusted hop were written by the client and are never used.
func (c *ClientResolver) ClientIP(r *http.Request) string {
	remoteIP := remoteAddr(r)

	if c != nil && c.isTrusted(remoteIP) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			hops := strings.Split(xff, ",")
			for i := len(hops) - 1; i >= 0; i-- {
				ip := strings.TrimSpace(hops[i])
				if !isValidIP(ip) || c.isTrusted(ip) {
					continue
				}
				return ip
			}
		}

		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); isValidIP(xri) && !c.isTrusted(xri) {
			return xri
		}
	}

	return remoteIP
}

// UserAgent returns the request's user agent truncated to MaxUserAgentLength
func UserAgent(r *http.Request) string {
	ua := r.UserAgent()
	if len(ua) > MaxUserAgentLength {
		return ua[:MaxUserAgentLength]
	}
	return ua
}

// remoteAddr extracts the IP address from RemoteAddr (removing port if present)
func remoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

func (c *ClientResolver) isTrusted(ip string) bool {
	if len(c.trusted) == 0 {
		return false
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}

	for _, ipNet := range c.trusted {
		if ipNet.Contains(parsed) {
			return true
		}
	}
	return false
}

func isValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}
