package daemon

import (
	"net/http"
	"strings"
)

const defaultOwnerID = "local"

// authMiddleware validates bearer tokens. An empty token disables
// authentication; otherwise requests must carry
// "Authorization: Bearer <token>".
func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ownerID identifies the caller. Single-user deployments omit the header and
// share the default identity.
func ownerID(r *http.Request) string {
	owner := strings.TrimSpace(r.Header.Get("X-Owner-Id"))
	if owner == "" {
		return defaultOwnerID
	}
	return owner
}
