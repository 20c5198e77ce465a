package api

import (
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// IPAllowlist matches client addresses against plain IPs and CIDR ranges.
// An empty list allows every address.
type IPAllowlist struct {
	prefixes []netip.Prefix
}

// ParseIPAllowlist parses entries such as "127.0.0.1" or "10.0.0.0/8".
func ParseIPAllowlist(entries []string) (*IPAllowlist, error) {
	al := &IPAllowlist{}
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid allowlist entry %q: %w", entry, err)
			}
			al.prefixes = append(al.prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid allowlist entry %q: %w", entry, err)
		}
		addr = addr.Unmap()
		al.prefixes = append(al.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return al, nil
}

// Empty reports whether the list has no entries.
func (al *IPAllowlist) Empty() bool {
	return al == nil || len(al.prefixes) == 0
}

// Allows reports whether ip may call guarded endpoints.
func (al *IPAllowlist) Allows(ip string) bool {
	if al.Empty() {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range al.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP extracts the caller address. Forwarding headers are honoured
// only when the relay sits behind a trusted proxy.
func clientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// validAPIKey compares in constant time. An unconfigured key rejects everything.
func validAPIKey(configured, presented string) bool {
	if configured == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}
