package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/futarchyd/internal/domain"
)

// RateLimit bounds each client IP to limit requests per window within scope.
// Account switches and transaction builds draw from separate buckets, so a
// client re-enriching every market does not starve its own trading. A nil
// limiter or a non-positive limit disables the check, and limiter errors
// fail open.
func RateLimit(limiter domain.RateLimiter, scope Scope, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || limit <= 0 {
			return next
		}
		limitHeader := strconv.Itoa(limit)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := limiter.Allow(r.Context(), rateKey(scope, r), limit, window)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Limit", limitHeader)
			if !allowed {
				w.Header().Set("Retry-After", retryAfter(window))
				reject(w, scope, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateKey buckets by scope and client IP, preferring the IP RequireKey
// already resolved.
func rateKey(scope Scope, r *http.Request) string {
	ip := ""
	if c, ok := CallerFrom(r.Context()); ok {
		ip = c.IP
	}
	if ip == "" {
		ip = extractClientIP(r)
	}
	return "api:" + string(scope) + ":" + ip
}

func retryAfter(window time.Duration) string {
	return strconv.Itoa(max(int(window/time.Second), 1))
}

// extractClientIP prefers the first X-Forwarded-For hop, then X-Real-IP,
// then the peer address.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
