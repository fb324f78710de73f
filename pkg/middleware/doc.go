// Package middleware throttles the unauthenticated entry points of the
// admin panel: login and password reset requests.
//
// Limiters count requests per client address in fixed windows. RateLimiter
// keeps windows in process; DistributedRateLimiter keeps them in Redis so
// every instance shares them.
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, middleware.LoginRateLimitConfig(), "throttle:login")
//	router.Handle("/api/auth/login", middleware.Throttle(limiter, middleware.ScopeLogin, metrics)(loginHandler))
//
// Throttled requests get 429 with a Retry-After header.
package middleware
