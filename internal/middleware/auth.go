package middleware

import (
	"net/http"
	"strings"

	"github.com/onnwee/esign/internal/auth"
)

// TokenValidator validates staff bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// RequireStaff rejects requests without a valid staff bearer token.
// Tokens with a read-only role pass for GET requests only.
func RequireStaff(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				SetErrorCode(r.Context(), "auth_failed")
				writeJSONError(w, http.StatusUnauthorized, "auth_failed", "Missing bearer token")
				return
			}

			claims, err := validator.ValidateToken(strings.TrimSpace(token))
			if err != nil {
				SetErrorCode(r.Context(), "auth_failed")
				writeJSONError(w, http.StatusUnauthorized, "auth_failed", "Invalid or expired token")
				return
			}

			if !claims.IsStaff() && r.Method != http.MethodGet {
				SetErrorCode(r.Context(), "forbidden")
				writeJSONError(w, http.StatusForbidden, "forbidden", "Staff role required")
				return
			}

			ctx := SetSubject(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
