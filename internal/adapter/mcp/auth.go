package mcp

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware wraps an http.Handler and validates the shared API key.
// Clients may send "Authorization: Bearer <key>", a bare Authorization
// value, or an "X-Api-Key" header. An empty apiKey disables authentication
// and passes every request through.
func AuthMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Api-Key")
		if token == "" {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				http.Error(w, "missing credentials", http.StatusUnauthorized)
				return
			}
			token = strings.TrimPrefix(auth, "Bearer ")
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			http.Error(w, "invalid credentials", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
