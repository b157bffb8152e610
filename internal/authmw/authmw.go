// Package authmw provides HTTP middleware that authenticates webhook senders
// with a shared token.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerToken returns middleware that requires the shared token, sent either
// as "Authorization: Bearer <token>" or as the password of HTTP basic auth,
// the two forms Alertmanager receivers can be configured with. The scheme is
// matched case-insensitively. An empty token disables the check.
func BearerToken(token string) func(http.Handler) http.Handler {
	if token == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := credential(r)
			if !ok {
				unauthorized(w, "missing or malformed authorization header")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				unauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// credential extracts the presented secret from the Authorization header.
func credential(r *http.Request) (string, bool) {
	scheme, value, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok {
		return "", false
	}
	switch strings.ToLower(scheme) {
	case "bearer":
		return strings.TrimSpace(value), true
	case "basic":
		_, pass, ok := r.BasicAuth()
		return pass, ok
	default:
		return "", false
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="alertbot"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
