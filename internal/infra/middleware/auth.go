package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenFromRequest extracts a bearer token from the Authorization header or,
// failing that, the "token" query parameter.
func TokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if scheme, token, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// ValidToken reports whether got matches want in constant time. An empty
// want never matches.
func ValidToken(got, want string) bool {
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// BearerAuth rejects requests whose token does not match token with 401.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !ValidToken(TokenFromRequest(r), token) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="taskrails"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
