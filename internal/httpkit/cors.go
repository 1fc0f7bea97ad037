package httpkit

import (
	"net/http"
	"strconv"
	"strings"
)

type CORSOptions struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAgeSeconds    int
}

// CORS returns a middleware applying the given cross-origin policy.
// An allowed origin of "*" matches everything.
func CORS(opts CORSOptions) func(http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		if o == "*" {
			allowAll = true
			continue
		}
		allowed[o] = struct{}{}
	}

	methods := strings.Join(opts.AllowedMethods, ", ")
	headers := strings.Join(opts.AllowedHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				_, ok := allowed[origin]
				if allowAll || ok {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
					if opts.AllowCredentials {
						w.Header().Set("Access-Control-Allow-Credentials", "true")
					}
					if r.Method == http.MethodOptions {
						if methods != "" {
							w.Header().Set("Access-Control-Allow-Methods", methods)
						}
						if headers != "" {
							w.Header().Set("Access-Control-Allow-Headers", headers)
						}
						if opts.MaxAgeSeconds > 0 {
							w.Header().Set("Access-Control-Max-Age", strconv.Itoa(opts.MaxAgeSeconds))
						}
						w.WriteHeader(http.StatusNoContent)
						return
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
