package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuth wraps next with constant-time bearer-token comparison on
// mutating routes (§6). An empty token disables auth entirely (used when the
// operator runs with no --bearer-token configured).
func BearerAuth(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) || !constantTimeEqual(strings.TrimPrefix(header, prefix), token) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="wavs"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
