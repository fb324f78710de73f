package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login outcomes recorded by ObserveLogin.
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeLocked             = "locked"
	OutcomeInactive           = "inactive"
	OutcomeValidation         = "validation"
	OutcomeError              = "error"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	LoginAttemptsTotal  *prometheus.CounterVec
	LoginDuration       prometheus.Histogram
	AccountLockouts     prometheus.Counter
	PasswordResetsTotal *prometheus.CounterVec

	// Session metrics
	SessionsActive        prometheus.Gauge
	SessionsCreatedTotal  prometheus.Counter
	SessionRotationsTotal prometheus.Counter

	// Authorization metrics
	PermissionDenialsTotal *prometheus.CounterVec
	RateLimitedTotal       *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collegeadmin_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "collegeadmin_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collegeadmin_login_attempts_total",
				Help: "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		LoginDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "collegeadmin_login_duration_seconds",
				Help:    "Time spent authenticating, dominated by password hashing",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		),
		AccountLockouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "collegeadmin_account_lockouts_total",
				Help: "Accounts locked after reaching the failed attempt threshold",
			},
		),
		PasswordResetsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collegeadmin_password_resets_total",
				Help: "Password reset requests and consumptions",
			},
			[]string{"stage", "outcome"},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "collegeadmin_sessions_active",
				Help: "Live sessions held by the session store",
			},
		),
		SessionsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "collegeadmin_sessions_created_total",
				Help: "Sessions issued after successful authentication",
			},
		),
		SessionRotationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "collegeadmin_session_rotations_total",
				Help: "Session identifier rotations",
			},
		),
		PermissionDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collegeadmin_permission_denials_total",
				Help: "Requests rejected by a permission gate",
			},
			[]string{"permission"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collegeadmin_rate_limited_total",
				Help: "Requests rejected by a throttle",
			},
			[]string{"scope"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginAttemptsTotal,
		m.LoginDuration,
		m.AccountLockouts,
		m.PasswordResetsTotal,
		m.SessionsActive,
		m.SessionsCreatedTotal,
		m.SessionRotationsTotal,
		m.PermissionDenialsTotal,
		m.RateLimitedTotal,
	)

	return m
}

// The helpers below are nil-safe so collaborators can run without metrics.

// ObserveLogin records one authentication attempt.
func (m *Metrics) ObserveLogin(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.LoginAttemptsTotal.WithLabelValues(outcome).Inc()
	m.LoginDuration.Observe(d.Seconds())
}

// AccountLocked counts an account crossing the lockout threshold.
func (m *Metrics) AccountLocked() {
	if m == nil {
		return
	}
	m.AccountLockouts.Inc()
}

// ObserveReset records a reset request or consumption.
func (m *Metrics) ObserveReset(stage, outcome string) {
	if m == nil {
		return
	}
	m.PasswordResetsTotal.WithLabelValues(stage, outcome).Inc()
}

// SessionCreated counts a newly issued session.
func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreatedTotal.Inc()
}

// SessionRotated counts an identifier rotation.
func (m *Metrics) SessionRotated() {
	if m == nil {
		return
	}
	m.SessionRotationsTotal.Inc()
}

// SetActiveSessions reports the session store size.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(n))
}

// PermissionDenied counts a rejected permission check.
func (m *Metrics) PermissionDenied(permission string) {
	if m == nil {
		return
	}
	m.PermissionDenialsTotal.WithLabelValues(permission).Inc()
}

// RateLimited counts a throttled request.
func (m *Metrics) RateLimited(scope string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(scope).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by route template so path ids do not explode cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
