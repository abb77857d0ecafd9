package middleware

import (
	"crypto/subtle"
	"net/http"
)

// InternalTokenHeader carries the shared secret for operational endpoints.
const InternalTokenHeader = "X-Internal-Token"

// InternalToken restricts access to requests carrying token in the
// X-Internal-Token header. If token is empty, no authentication is required.
// Uses constant-time comparison to prevent timing attacks.
func InternalToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			headerToken := r.Header.Get(InternalTokenHeader)
			if subtle.ConstantTimeCompare([]byte(headerToken), []byte(token)) != 1 {
				writeJSONError(w, http.StatusForbidden, "forbidden", "Internal token required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
