package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/example/oauthapp/internal/adminauth"
)

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// AdminAuth guards client registration with an admin JWT. It is a no-op when
// no admin secret is configured.
func (a *App) AdminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.adminSecret) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid_token", "Admin token required")
			return
		}
		claims, err := adminauth.Verify(a.adminSecret, token)
		if errors.Is(err, adminauth.ErrNotAdmin) {
			writeError(w, http.StatusForbidden, "insufficient_scope", "Admin role required")
			return
		}
		if err != nil {
			a.requestLog(r).WithError(err).Warn("admin token rejected")
			writeError(w, http.StatusUnauthorized, "invalid_token", "Invalid admin token")
			return
		}

		a.requestLog(r).WithField("admin", claims.Subject).Debug("admin request")
		next.ServeHTTP(w, r)
	})
}
