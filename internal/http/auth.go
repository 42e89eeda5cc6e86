package http

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// WebSocket clients cannot set headers from browsers, so a "token" query
// parameter is accepted as a fallback.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// tokenMatch performs a constant-time comparison of a provided token
// against the expected token. Returns true if expected is empty (no auth
// configured) or if tokens match.
func tokenMatch(provided, expected string) bool {
	if expected == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}
