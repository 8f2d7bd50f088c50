package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/star/isswatch/internal/httputil"
)

// Config holds authentication configuration.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// exemptPaths are always public regardless of auth configuration.
var exemptPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// readOnlyPrefix marks the API paths that are public for safe methods.
// Anything that changes state (focus, origin) needs the token.
const readOnlyPrefix = "/api/v1/"

// isExempt returns true if the request does not need a token.
func isExempt(r *http.Request) bool {
	if exemptPaths[r.URL.Path] {
		return true
	}
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return strings.HasPrefix(r.URL.Path, readOnlyPrefix)
	}
	return false
}

// Middleware returns an HTTP middleware that enforces Bearer token auth
// on non-exempt requests when auth is enabled.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || isExempt(r) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")

			if header == "" || token == header || subtle.ConstantTimeCompare([]byte(token), []byte(cfg.Token)) != 1 {
				httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
