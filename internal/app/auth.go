package app

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// TokenAuth guards API routes with a static bearer token. An empty token
// allows every request.
type TokenAuth struct {
	token string
}

func NewTokenAuth(token string) *TokenAuth {
	return &TokenAuth{token: strings.TrimSpace(token)}
}

// Enabled reports whether a token is configured.
func (a *TokenAuth) Enabled() bool {
	return a != nil && a.token != ""
}

// Authorized reports whether r carries the configured token.
func (a *TokenAuth) Authorized(r *http.Request) bool {
	if !a.Enabled() {
		return true
	}
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return false
	}
	got := strings.TrimSpace(h[len(prefix):])
	return subtle.ConstantTimeCompare([]byte(got), []byte(a.token)) == 1
}

// Require wraps next so unauthorized requests get a 401.
func (a *TokenAuth) Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.Authorized(r) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="polycopy"`)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":   "authentication_required",
				"message": "a valid bearer token is required",
			})
			return
		}
		next(w, r)
	}
}
