package rbac

import (
	"context"
	"net/http"

	"github.com/platinummonkey/collegeadmin/pkg/audit"
	"github.com/platinummonkey/collegeadmin/pkg/httputil"
	"github.com/platinummonkey/collegeadmin/pkg/observability"
	"github.com/platinummonkey/collegeadmin/pkg/session"
)

// MenuSource lists the full menu.
type MenuSource interface {
	ListMenuItems(ctx context.Context) ([]MenuItem, error)
}

// Authorizer is the single decision point for permission checks and menu
// visibility. It reads the grants cached on the session.
type Authorizer struct {
	menus   MenuSource
	audit   audit.Logger
	metrics *observability.Metrics
}

// AuthorizerOption configures an Authorizer.
type AuthorizerOption func(*Authorizer)

// WithAuditLogger records denied requests.
func WithAuditLogger(l audit.Logger) AuthorizerOption {
	return func(a *Authorizer) { a.audit = l }
}

// WithAuthorizerMetrics counts denied checks.
func WithAuthorizerMetrics(m *observability.Metrics) AuthorizerOption {
	return func(a *Authorizer) { a.metrics = m }
}

// NewAuthorizer creates an authorizer reading menu items from menus.
func NewAuthorizer(menus MenuSource, opts ...AuthorizerOption) *Authorizer {
	a := &Authorizer{menus: menus, audit: audit.NopLogger{}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// HasPermission reports whether s holds name. Administrators hold every
// permission, including names that do not exist.
func (a *Authorizer) HasPermission(s *session.Session, name string) bool {
	if s == nil {
		return false
	}
	if s.IsAdmin {
		return true
	}
	for _, p := range s.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

// RequirePermission returns ErrUnauthenticated for a nil session and a
// *PermissionDeniedError when s lacks name.
func (a *Authorizer) RequirePermission(s *session.Session, name string) error {
	if s == nil {
		return ErrUnauthenticated
	}
	if !a.HasPermission(s, name) {
		a.metrics.PermissionDenied(name)
		return &PermissionDeniedError{Permission: name}
	}
	return nil
}

// RequireSession rejects anonymous requests with 401.
func (a *Authorizer) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := session.FromContext(r.Context()); !ok {
			httputil.WriteUnauthorized(w, ErrUnauthenticated.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Require gates next on permission name. Anonymous requests get 401 and
// sessions lacking the permission get 403; both run before next.
func (a *Authorizer) Require(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, _ := session.FromContext(r.Context())
			if err := a.RequirePermission(s, name); err != nil {
				if s == nil {
					httputil.WriteUnauthorized(w, err.Error())
					return
				}
				event := audit.NewEvent(r, audit.EventTypeAuthzAccessDenied, audit.EventStatusDenied).
					WithMetadata("permission", name).
					WithMetadata("path", r.URL.Path)
				event.Username = s.Username
				event.Message = err.Error()
				audit.Record(r.Context(), a.audit, event)

				observability.FromContext(r.Context()).
					WithField("permission", name).
					Warn("permission denied")
				httputil.WriteForbidden(w, err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CanSee reports whether item is visible to s: it must be active and either
// ungated or gated by at least one permission s holds.
func (a *Authorizer) CanSee(s *session.Session, item MenuItem) bool {
	if s == nil || !item.IsActive {
		return false
	}
	if len(item.Permissions) == 0 {
		return true
	}
	for _, p := range item.Permissions {
		if a.HasPermission(s, p) {
			return true
		}
	}
	return false
}

// VisibleMenu returns the menu tree visible to s. A hidden item hides its
// whole subtree.
func (a *Authorizer) VisibleMenu(ctx context.Context, s *session.Session) (MenuTree, error) {
	if s == nil {
		return nil, ErrUnauthenticated
	}
	items, err := a.menus.ListMenuItems(ctx)
	if err != nil {
		return nil, err
	}
	return BuildMenuTree(items, func(item MenuItem) bool { return a.CanSee(s, item) }), nil
}
