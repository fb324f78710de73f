package api

import (
	"net/http"

	"github.com/platinummonkey/collegeadmin/pkg/audit"
	"github.com/platinummonkey/collegeadmin/pkg/auth"
	"github.com/platinummonkey/collegeadmin/pkg/httputil"
	"github.com/platinummonkey/collegeadmin/pkg/observability"
	"github.com/platinummonkey/collegeadmin/pkg/session"
)

// unlockUser handles POST /api/admin/users/{id}/unlock
func (s *Server) unlockUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := s.deps.Authenticator.Unlock(r.Context(), id); err != nil {
		writeAuthError(w, r, err)
		return
	}

	event := audit.NewEvent(r, audit.EventTypeAdminUserUnlock, audit.EventStatusSuccess).
		WithMetadata("target_user_id", id)
	if sess, ok := session.FromContext(r.Context()); ok {
		event.Username = sess.Username
	}
	event.Message = "account unlocked"
	audit.Record(r.Context(), s.deps.Audit, event)

	_ = httputil.WriteSuccessMessage(w, "account unlocked", nil)
}

type userListResponse struct {
	Users []*auth.User `json:"users"`
	Count int          `json:"count"`
}

// listUsers handles GET /api/admin/users
func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.deps.Authenticator.ListUsers(r.Context())
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, userListResponse{Users: users, Count: len(users)})
}

// getUser handles GET /api/admin/users/{id}
func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	u, err := s.deps.Authenticator.GetUser(r.Context(), id)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, u)
}

// activateUser handles POST /api/admin/users/{id}/activate
func (s *Server) activateUser(w http.ResponseWriter, r *http.Request) {
	s.setActive(w, r, true)
}

// deactivateUser handles POST /api/admin/users/{id}/deactivate. The
// account's sessions end immediately.
func (s *Server) deactivateUser(w http.ResponseWriter, r *http.Request) {
	s.setActive(w, r, false)
}

func (s *Server) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	sess, _ := session.FromContext(r.Context())
	if !active && sess != nil && sess.UserID == id {
		httputil.WriteBadRequest(w, "you cannot deactivate your own account")
		return
	}

	u, err := s.deps.Authenticator.SetActive(r.Context(), id, active)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	eventType, message := audit.EventTypeAdminUserActivate, "account activated"
	if !active {
		eventType, message = audit.EventTypeAdminUserDeactivate, "account deactivated"
		if _, err := s.deps.Sessions.DestroyUser(r.Context(), id); err != nil {
			observability.FromContext(r.Context()).WithError(err).Warn("failed to end sessions of deactivated account")
		}
	}

	event := audit.NewEvent(r, eventType, audit.EventStatusSuccess).WithMetadata("target_user_id", id)
	if sess != nil {
		event.Username = sess.Username
	}
	event.Message = message
	audit.Record(r.Context(), s.deps.Audit, event)

	_ = httputil.WriteJSON(w, http.StatusOK, u)
}
