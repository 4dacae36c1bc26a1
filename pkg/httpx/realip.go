package httpx

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP resolves the caller's address. Forwarding headers are honored only
// when the direct peer is inside a trusted proxy CIDR.
func ClientIP(r *http.Request, trusted []*net.IPNet) string {
	remoteIP := hostOf(r.RemoteAddr)
	if remoteIP != "" && inCIDRs(remoteIP, trusted) {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			first := strings.TrimSpace(strings.Split(xff, ",")[0])
			if candidate := hostOf(first); candidate != "" {
				return candidate
			}
		}
		if realIP := hostOf(strings.TrimSpace(r.Header.Get("X-Real-IP"))); realIP != "" {
			return realIP
		}
	}
	if remoteIP == "" {
		return "unknown"
	}
	return remoteIP
}

// NormalizeAddr collapses an IPv6 address to its /56 prefix so rate limiting
// keys on the network block rather than a single address. IPv4 addresses pass
// through unchanged.
func NormalizeAddr(addr string) string {
	ip := net.ParseIP(addr)
	if ip == nil {
		return addr
	}
	if ip.To4() != nil {
		return ip.String()
	}
	return ip.Mask(net.CIDRMask(56, 128)).String() + "/56"
}

// ParseCIDRs accepts a comma-separated list of CIDRs or bare addresses.
func ParseCIDRs(raw string) []*net.IPNet {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]*net.IPNet, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			if _, cidr, err := net.ParseCIDR(part); err == nil {
				out = append(out, cidr)
			}
			continue
		}
		ip := net.ParseIP(part)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return out
}

func hostOf(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if net.ParseIP(addr) != nil {
		return addr
	}
	return ""
}

func inCIDRs(ipStr string, cidrs []*net.IPNet) bool {
	if len(cidrs) == 0 {
		return false
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, cidr := range cidrs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}
