package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_ObserveLogin(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveLogin(OutcomeSuccess, 10*time.Millisecond)
	m.ObserveLogin(OutcomeInvalidCredentials, 10*time.Millisecond)
	m.ObserveLogin(OutcomeLocked, 10*time.Millisecond)
	m.ObserveLogin(OutcomeLocked, 10*time.Millisecond)
	m.AccountLocked()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.LoginAttemptsTotal.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.LoginAttemptsTotal.WithLabelValues(OutcomeLocked)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AccountLockouts))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveLogin(OutcomeSuccess, time.Second)
		m.ObserveReset("request", "accepted")
		m.AccountLocked()
		m.SessionCreated()
		m.SessionRotated()
		m.SetActiveSessions(3)
		m.PermissionDenied("roles.manage")
		m.RateLimited("login")
	})
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/api/admin/users/{id}/unlock", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	for _, id := range []string{"1", "2"} {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/users/"+id+"/unlock", nil)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/api/admin/users/{id}/unlock", "204"))
	assert.Equal(t, float64(2), got)
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.SessionRotated()

	rec := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "collegeadmin_session_rotations_total 1")
}
