package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/collegeadmin/pkg/audit"
	"github.com/platinummonkey/collegeadmin/pkg/auth"
	"github.com/platinummonkey/collegeadmin/pkg/httputil"
	"github.com/platinummonkey/collegeadmin/pkg/middleware"
	"github.com/platinummonkey/collegeadmin/pkg/observability"
	"github.com/platinummonkey/collegeadmin/pkg/rbac"
	"github.com/platinummonkey/collegeadmin/pkg/session"
)

// DefaultMaxBodyBytes caps request bodies when Deps.MaxBodyBytes is unset.
const DefaultMaxBodyBytes = 1 << 20

// Deps are the collaborators the server routes to. Limiters, Health, and
// TrustedProxies may be nil; every other field is required.
type Deps struct {
	Authenticator *auth.Authenticator
	Resets        *auth.ResetService
	Sessions      *session.Manager
	RBAC          *rbac.Store
	Authorizer    *rbac.Authorizer
	Audit         audit.Logger
	AuditSearch   audit.Searcher
	LoginLimiter  middleware.Limiter
	ResetLimiter  middleware.Limiter
	Health        *observability.HealthChecker
	Metrics       *observability.Metrics
	Logger        *observability.Logger
	MaxBodyBytes  int64

	// TrustedProxies are the peers whose forwarding headers name the client.
	TrustedProxies httputil.TrustedProxies
}

// Server represents our API server
type Server struct {
	router *mux.Router
	deps   Deps
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	if deps.Audit == nil {
		deps.Audit = audit.NopLogger{}
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewNopLogger()
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{router: mux.NewRouter(), deps: deps}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	r := s.router
	r.Use(
		httputil.ClientIPMiddleware(s.deps.TrustedProxies),
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.deps.Logger),
		httputil.RecoveryMiddleware(s.deps.Logger),
		httputil.SecurityHeadersMiddleware,
		httputil.MaxBytesMiddleware(s.deps.MaxBodyBytes),
	)
	if s.deps.Metrics != nil {
		r.Use(observability.HTTPMetricsMiddleware(s.deps.Metrics))
	}
	r.Use(s.deps.Sessions.Middleware)

	if s.deps.Health != nil {
		r.HandleFunc("/healthz", s.deps.Health.Liveness).Methods(http.MethodGet)
		r.HandleFunc("/readyz", s.deps.Health.Readiness).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	authed := s.deps.Authorizer.RequireSession

	// Authentication
	api.Handle("/auth/login", s.throttle(s.deps.LoginLimiter, middleware.ScopeLogin, s.login)).Methods(http.MethodPost)
	api.Handle("/auth/logout", authed(http.HandlerFunc(s.logout))).Methods(http.MethodPost)
	api.Handle("/auth/me", authed(http.HandlerFunc(s.me))).Methods(http.MethodGet)
	api.Handle("/menu", authed(http.HandlerFunc(s.menu))).Methods(http.MethodGet)

	// Password reset
	api.Handle("/auth/password/forgot", s.throttle(s.deps.ResetLimiter, middleware.ScopeReset, s.forgotPassword)).Methods(http.MethodPost)
	api.HandleFunc("/auth/password/reset", s.resetPassword).Methods(http.MethodPost)

	// Administration
	admin := api.PathPrefix("/admin").Subrouter()
	manage := s.deps.Authorizer.Require(rbac.PermissionUsersManage)
	admin.Handle("/users", manage(http.HandlerFunc(s.listUsers))).Methods(http.MethodGet)
	admin.Handle("/users/{id:[0-9]+}", manage(http.HandlerFunc(s.getUser))).Methods(http.MethodGet)
	admin.Handle("/users/{id}/activate", manage(http.HandlerFunc(s.activateUser))).Methods(http.MethodPost)
	admin.Handle("/users/{id}/deactivate", manage(http.HandlerFunc(s.deactivateUser))).Methods(http.MethodPost)
	admin.Handle("/users/{id}/unlock",
		s.deps.Authorizer.Require(rbac.PermissionUsersUnlock)(http.HandlerFunc(s.unlockUser))).Methods(http.MethodPost)
	rbac.NewHandlers(s.deps.RBAC, s.deps.Authorizer, s.deps.Audit).RegisterRoutes(admin)
	if s.deps.AuditSearch != nil {
		audit.NewHandlers(s.deps.AuditSearch).RegisterRoutes(admin, s.deps.Authorizer.Require(rbac.PermissionAuditView))
	}
}

func (s *Server) throttle(limiter middleware.Limiter, scope string, fn http.HandlerFunc) http.Handler {
	if limiter == nil {
		return fn
	}
	return middleware.Throttle(limiter, scope, s.deps.Metrics)(fn)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the router so callers can add routes.
func (s *Server) Router() *mux.Router {
	return s.router
}
