package middleware

import (
	"net/http"
	"strings"
)

// Origins is the set of browser origins allowed to read the API and open the
// state socket.
type Origins struct {
	any bool
	set map[string]bool
}

// NewOrigins builds an Origins from configured values. An empty list or a
// "*" entry allows every origin.
func NewOrigins(list []string) Origins {
	o := Origins{any: len(list) == 0, set: make(map[string]bool, len(list))}
	for _, v := range list {
		v = strings.ToLower(strings.TrimRight(strings.TrimSpace(v), "/"))
		if v == "*" {
			o.any = true
		}
		if v != "" {
			o.set[v] = true
		}
	}
	return o
}

// Allows reports whether origin may connect. A request without an Origin
// header is not from a browser and is allowed.
func (o Origins) Allows(origin string) bool {
	if origin == "" || o.any {
		return true
	}
	return o.set[strings.ToLower(origin)]
}

const (
	corsMethods = "GET, PUT, POST, OPTIONS"
	corsHeaders = "Content-Type, Authorization, X-API-Key"
	corsExpose  = "Retry-After, X-RateLimit-Limit"
)

// CORS sets CORS headers for allowed origins and answers preflights.
func CORS(origins Origins) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			w.Header().Add("Vary", "Origin")
			if origin != "" && origins.Allows(origin) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", corsMethods)
				h.Set("Access-Control-Allow-Headers", corsHeaders)
				h.Set("Access-Control-Expose-Headers", corsExpose)
				h.Set("Access-Control-Max-Age", "86400")
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
