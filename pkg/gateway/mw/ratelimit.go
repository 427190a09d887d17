package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/orderdial/orderdial/pkg/core"
	"github.com/orderdial/orderdial/pkg/gateway/auth"
	"github.com/orderdial/orderdial/pkg/gateway/ratelimit"
)

// RateLimit throttles call-placement and webhook traffic per API key. The
// streaming endpoint is exempt: stream capacity is enforced by the session
// registry, and refusing a vendor socket mid-call would orphan a live call.
func RateLimit(limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health endpoints must remain cheap and reliable.
		if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if r.URL.Path == "/v1/stream" {
			next.ServeHTTP(w, r)
			return
		}

		key := "anonymous"
		if p, ok := auth.PrincipalFrom(r.Context()); ok {
			key = ratelimit.KeyFromAPIKey(p.APIKey)
		}

		dec := limiter.Acquire(key, time.Now())
		if !dec.Allowed {
			reqID, _ := RequestIDFrom(r.Context())
			if dec.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
			}
			e := core.NewRateLimitError("rate limit exceeded", dec.RetryAfter)
			e.RequestID = reqID
			writeJSONError(w, http.StatusTooManyRequests, e)
			return
		}
		if dec.Permit != nil {
			defer dec.Permit.Release()
		}

		next.ServeHTTP(w, r)
	})
}
