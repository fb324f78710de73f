package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/collegeadmin/pkg/auth"
	"github.com/platinummonkey/collegeadmin/pkg/httputil"
	"github.com/platinummonkey/collegeadmin/pkg/observability"
)

// writeAuthError maps authentication and reset errors to responses. Storage
// and unexpected errors are logged in full and answered with a generic 500.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var policy *auth.PolicyViolationError
	var validation *auth.ValidationError

	switch {
	case errors.As(err, &policy):
		httputil.WriteRuleViolations(w, auth.ErrPasswordPolicy.Error(), policy.Rules)
	case errors.As(err, &validation):
		httputil.WriteDetailedError(w, http.StatusBadRequest, auth.ErrValidation.Error(),
			map[string]string{validation.Field: validation.Message})
	case errors.Is(err, auth.ErrInvalidCredentials):
		httputil.WriteUnauthorized(w, auth.ErrInvalidCredentials.Error())
	case errors.Is(err, auth.ErrAccountLocked):
		httputil.WriteLocked(w, auth.ErrAccountLocked.Error())
	case errors.Is(err, auth.ErrAccountInactive):
		httputil.WriteForbidden(w, auth.ErrAccountInactive.Error())
	case errors.Is(err, auth.ErrInvalidOrExpiredToken):
		httputil.WriteBadRequest(w, auth.ErrInvalidOrExpiredToken.Error())
	case errors.Is(err, auth.ErrUserNotFound):
		httputil.WriteNotFound(w, auth.ErrUserNotFound.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("request failed")
		httputil.WriteInternalError(w)
	}
}
