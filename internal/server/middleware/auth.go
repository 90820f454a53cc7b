package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/alanyoungcy/futarchyd/internal/metrics"
)

// Scope names a group of guarded routes. It labels rejections and separates
// rate-limit buckets.
type Scope string

const (
	ScopeAccount Scope = "account" // PUT /api/account
	ScopeTx      Scope = "tx"      // POST /api/tx/{call}
	ScopeAudit   Scope = "audit"   // GET /api/audit
)

// Caller identifies who is behind a guarded request.
type Caller struct {
	// KeyID is a short fingerprint of the presented API key, safe to log.
	// It is empty when authentication is disabled.
	KeyID string
	IP    string
}

type callerKey struct{}

// CallerFrom returns the Caller attached by RequireKey.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// WithCaller attaches c to ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// RequireKey admits requests carrying apiKey as a Bearer token or in
// X-API-Key, and attaches the Caller to the request context. An empty apiKey
// disables the check; requests still get a Caller.
func RequireKey(scope Scope, apiKey string) func(http.Handler) http.Handler {
	want := sha256.Sum256([]byte(apiKey))
	keyID := fingerprint(want)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := Caller{IP: extractClientIP(r)}
			if apiKey != "" {
				token := extractToken(r)
				if token == "" {
					reject(w, scope, http.StatusUnauthorized, "missing_key", "missing api key")
					return
				}
				got := sha256.Sum256([]byte(token))
				if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
					reject(w, scope, http.StatusUnauthorized, "invalid_key", "invalid api key")
					return
				}
				caller.KeyID = keyID
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

func fingerprint(sum [sha256.Size]byte) string {
	return hex.EncodeToString(sum[:4])
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, found := strings.Cut(auth, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// reject counts the refusal and writes the error envelope the API handlers
// use.
func reject(w http.ResponseWriter, scope Scope, status int, reason, msg string) {
	metrics.APIRejected.WithLabelValues(string(scope), reason).Inc()
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="futarchyd"`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
