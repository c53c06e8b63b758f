// Package middleware provides HTTP middleware for the crawl API.
package middleware

import (
	"net/http"
	"slices"
	"strings"
)

// CORSOptions lists what cross-origin callers may send.
type CORSOptions struct {
	AllowedOrigins []string
	AllowedHeaders []string
}

// CORS returns middleware that handles CORS headers. A "*" origin echoes any
// caller but never grants credentials.
func CORS(opts CORSOptions) func(http.Handler) http.Handler {
	headers := strings.Join(append([]string{"Content-Type"}, opts.AllowedHeaders...), ", ")
	wildcard := slices.Contains(opts.AllowedOrigins, "*")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			explicit := origin != "" && slices.Contains(opts.AllowedOrigins, origin)

			if origin != "" && (explicit || wildcard) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", headers)
				w.Header().Add("Vary", "Origin")
				// Credentials only for explicit origins; echoing a wildcard with credentials enables CSRF.
				if explicit {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
