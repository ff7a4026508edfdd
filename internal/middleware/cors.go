// Package middleware provides HTTP middleware for the Okkonator API.
package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/cors"

	"github.com/okkolab/okkonator/internal/identity"
)

// ParseOrigins splits a comma separated CORS_ORIGINS value.
func ParseOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// CORS returns middleware that handles CORS headers. A "*" entry allows
// every origin without credentials. Otherwise only the listed origins are
// allowed, and they may send the visitor cookie.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	wildcard := len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*")
	opts := cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", identity.SessionHeaderName},
		AllowCredentials: !wildcard,
		MaxAge:           300,
	}
	if wildcard {
		opts.AllowedOrigins = []string{"*"}
	}
	return cors.Handler(opts)
}
