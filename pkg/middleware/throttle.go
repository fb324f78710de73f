package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/platinummonkey/collegeadmin/pkg/httputil"
	"github.com/platinummonkey/collegeadmin/pkg/observability"
)

// Throttle scopes.
const (
	ScopeLogin = "login"
	ScopeReset = "reset"
)

// ThrottleKey is the limiter key Throttle counts r against in scope.
func ThrottleKey(scope string, r *http.Request) string {
	return scope + ":" + httputil.ClientIP(r)
}

// Throttle limits requests per client address within scope. Limiter errors
// fail open so an unavailable Redis does not lock everyone out.
func Throttle(limiter Limiter, scope string, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ThrottleKey(scope, r)

			allowed, retryAfter, err := limiter.Allow(r.Context(), key)
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).
					WithField("scope", scope).
					Warn("rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				metrics.RateLimited(scope)
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(math.Ceil(retryAfter.Seconds()))))
				httputil.WriteTooManyRequests(w, "too many requests, try again later")
				return
			}
			if remaining, err := limiter.Remaining(r.Context(), key); err == nil {
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ResetThrottle clears the window r counts against in scope. A nil limiter
// is a no-op.
func ResetThrottle(ctx context.Context, limiter Limiter, scope string, r *http.Request) {
	if limiter == nil {
		return
	}
	if err := limiter.Reset(ctx, ThrottleKey(scope, r)); err != nil {
		observability.FromContext(ctx).WithError(err).
			WithField("scope", scope).
			Warn("failed to reset throttle window")
	}
}
