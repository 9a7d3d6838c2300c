package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// presentedToken returns the bearer token of r, or its token query
// parameter when no bearer header is set.
func presentedToken(r *http.Request) string {
	if value, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return value
	}
	return r.URL.Query().Get("token")
}

// validateToken reports whether r carries the configured server token. An
// empty token disables the check.
func validateToken(r *http.Request, token string) bool {
	if token == "" {
		return true
	}
	presented := presentedToken(r)
	return presented != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1
}

// isOriginAllowed guards websocket upgrades. Without an allow list only the
// server's own host may connect from a browser.
func isOriginAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Hostname() == "" {
		return false
	}
	if len(allowed) == 0 {
		return strings.EqualFold(parsed.Hostname(), requestHost(r.Host))
	}
	return slices.ContainsFunc(allowed, func(entry string) bool {
		return strings.EqualFold(entry, origin) || strings.EqualFold(entry, parsed.Hostname())
	})
}

func requestHost(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return strings.Trim(hostport, "[]")
}
