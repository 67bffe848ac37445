package netguard

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the caller address. Forwarding headers are honoured only when
// the direct peer is a trusted proxy; X-Forwarded-For is walked right to left and
// the first hop that is not itself a trusted proxy wins.
func ClientIP(r *http.Request, trusted PrefixList) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	ip = strings.TrimSpace(ip)
	if !trusted.Contains(ParseIP(ip)) {
		return ip
	}
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		parts := strings.Split(xff, ",")
		for i := len(parts) - 1; i >= 0; i-- {
			candidate := strings.TrimSpace(parts[i])
			addr := ParseIP(candidate)
			if !addr.IsValid() {
				continue
			}
			if !trusted.Contains(addr) {
				return addr.String()
			}
		}
	}
	if realIP := ParseIP(r.Header.Get("X-Real-IP")); realIP.IsValid() {
		return realIP.String()
	}
	return ip
}
