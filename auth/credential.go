package auth

import (
	"net/http"
	"strings"
)

const (
	cookieName   = "token"
	bearerPrefix = "Bearer "
)

// CredentialFromRequest looks for a token in the "token" cookie,
// then the Authorization header, then the ?token= query parameter.
func CredentialFromRequest(r *http.Request) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		if token := strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix)); token != "" {
			return token
		}
	}
	return r.URL.Query().Get("token")
}
