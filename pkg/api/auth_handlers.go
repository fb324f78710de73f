package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/collegeadmin/pkg/audit"
	"github.com/platinummonkey/collegeadmin/pkg/auth"
	"github.com/platinummonkey/collegeadmin/pkg/httputil"
	"github.com/platinummonkey/collegeadmin/pkg/middleware"
	"github.com/platinummonkey/collegeadmin/pkg/observability"
	"github.com/platinummonkey/collegeadmin/pkg/session"
)

// PrincipalResponse describes the authenticated user of a session.
type PrincipalResponse struct {
	UserID      int64    `json:"user_id"`
	Username    string   `json:"username"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	IsAdmin     bool     `json:"is_admin"`
}

func principal(s *session.Session) PrincipalResponse {
	p := PrincipalResponse{
		UserID:      s.UserID,
		Username:    s.Username,
		Roles:       s.Roles,
		Permissions: s.Permissions,
		IsAdmin:     s.IsAdmin,
	}
	if p.Roles == nil {
		p.Roles = []string{}
	}
	if p.Permissions == nil {
		p.Permissions = []string{}
	}
	return p
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// login handles POST /api/auth/login
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	sess, err := s.deps.Authenticator.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		s.recordLoginFailure(r, req.Username, err)
		writeAuthError(w, r, err)
		return
	}

	// A successful login replaces any session the caller already held.
	if prior, ok := session.FromContext(r.Context()); ok {
		if err := s.deps.Sessions.Destroy(r.Context(), prior); err != nil {
			observability.FromContext(r.Context()).WithError(err).Warn("failed to destroy prior session")
		}
	}
	s.deps.Sessions.SetCookie(w, r, sess)
	middleware.ResetThrottle(r.Context(), s.deps.LoginLimiter, middleware.ScopeLogin, r)

	event := audit.NewEvent(r, audit.EventTypeAuthLogin, audit.EventStatusSuccess)
	event.UserID = &sess.UserID
	event.Username = sess.Username
	event.Message = "login succeeded"
	audit.Record(r.Context(), s.deps.Audit, event)

	_ = httputil.WriteJSON(w, http.StatusOK, principal(sess))
}

func (s *Server) recordLoginFailure(r *http.Request, username string, err error) {
	eventType := audit.EventTypeAuthLoginFailed
	reason := "invalid_credentials"
	switch {
	case errors.Is(err, auth.ErrAccountLocked):
		eventType = audit.EventTypeAuthLockout
		reason = "locked"
	case errors.Is(err, auth.ErrAccountInactive):
		reason = "inactive"
	case errors.Is(err, auth.ErrValidation):
		reason = "validation"
	case !errors.Is(err, auth.ErrInvalidCredentials):
		reason = "error"
	}

	event := audit.NewEvent(r, eventType, audit.EventStatusFailure).WithMetadata("reason", reason)
	event.Username = username
	event.Message = "login rejected"
	audit.Record(r.Context(), s.deps.Audit, event)
}

// logout handles POST /api/auth/logout
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())
	if err := s.deps.Sessions.Destroy(r.Context(), sess); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to destroy session")
		httputil.WriteInternalError(w)
		return
	}
	s.deps.Sessions.ClearCookie(w, r)

	event := audit.NewEvent(r, audit.EventTypeAuthLogout, audit.EventStatusSuccess)
	event.Username = sess.Username
	event.Message = "logged out"
	audit.Record(r.Context(), s.deps.Audit, event)

	httputil.WriteNoContent(w)
}

// me handles GET /api/auth/me
func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())
	_ = httputil.WriteJSON(w, http.StatusOK, principal(sess))
}

// menu handles GET /api/menu
func (s *Server) menu(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())
	tree, err := s.deps.Authorizer.VisibleMenu(r.Context(), sess)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to build menu")
		httputil.WriteInternalError(w)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, tree)
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// forgotPassword handles POST /api/auth/password/forgot. The response does
// not reveal whether the email belongs to an account.
func (s *Server) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := s.deps.Resets.RequestReset(r.Context(), req.Email)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	event := audit.NewEvent(r, audit.EventTypeAuthResetRequested, audit.EventStatusSuccess)
	event.Message = "password reset requested"
	audit.Record(r.Context(), s.deps.Audit, event)

	_ = httputil.WriteJSON(w, http.StatusOK, result)
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// resetPassword handles POST /api/auth/password/reset
func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := s.deps.Resets.ConsumeReset(r.Context(), req.Token, req.Password); err != nil {
		event := audit.NewEvent(r, audit.EventTypeAuthResetFailed, audit.EventStatusFailure)
		event.Message = "password reset rejected"
		audit.Record(r.Context(), s.deps.Audit, event)

		writeAuthError(w, r, err)
		return
	}

	event := audit.NewEvent(r, audit.EventTypeAuthResetCompleted, audit.EventStatusSuccess)
	event.Message = "password reset completed"
	audit.Record(r.Context(), s.deps.Audit, event)

	_ = httputil.WriteSuccessMessage(w, "password updated, sign in with the new password", nil)
}
