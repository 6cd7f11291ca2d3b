package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware checks a single bearer token on /api requests.
type AuthMiddleware struct {
	token string
}

// NewAuthMiddleware creates an auth middleware. An empty token disables it.
func NewAuthMiddleware(token string) *AuthMiddleware {
	return &AuthMiddleware{token: token}
}

// Wrap wraps an http.Handler with token authentication checking.
func (am *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	if am.token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		key := ExtractAPIKey(r)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "missing API key")
			return
		}
		// Constant-time comparison to avoid leaking the token through timing.
		if subtle.ConstantTimeCompare([]byte(key), []byte(am.token)) != 1 {
			writeError(w, http.StatusForbidden, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ExtractAPIKey extracts an API key from request headers.
// It checks, in order: Authorization: Bearer <key>, X-API-Key header.
func ExtractAPIKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}
