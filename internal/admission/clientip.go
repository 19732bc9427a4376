// SPDX-License-Identifier: MIT

package admission

import (
	"net"
	"net/http"
	"strings"
)

// ClientID extracts the rate-limit identity for a request: first hop of
// X-Forwarded-For, then X-Real-IP, then the socket peer. "unknown" is the
// last resort so that a missing address degrades to one shared bucket
// instead of bypassing the limiter.
func ClientID(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if first != "" {
			return first
		}
	}
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return rip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
