package audit

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/collegeadmin/pkg/contextkeys"
	"github.com/platinummonkey/collegeadmin/pkg/httputil"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventTypeAuthLogin          EventType = "auth.login"
	EventTypeAuthLoginFailed    EventType = "auth.login_failed"
	EventTypeAuthLockout        EventType = "auth.lockout"
	EventTypeAuthLogout         EventType = "auth.logout"
	EventTypeAuthResetRequested EventType = "auth.password_reset_requested"
	EventTypeAuthResetCompleted EventType = "auth.password_reset_completed"
	EventTypeAuthResetFailed    EventType = "auth.password_reset_failed"

	// Authorization events
	EventTypeAuthzAccessDenied EventType = "authz.access_denied"

	// Admin events
	EventTypeAdminUserUnlock       EventType = "admin.user_unlock"
	EventTypeAdminUserActivate     EventType = "admin.user_activate"
	EventTypeAdminUserDeactivate   EventType = "admin.user_deactivate"
	EventTypeAdminUserRolesChange  EventType = "admin.user_roles_change"
	EventTypeAdminRoleCreate       EventType = "admin.role_create"
	EventTypeAdminRoleUpdate       EventType = "admin.role_update"
	EventTypeAdminRoleDelete       EventType = "admin.role_delete"
	EventTypeAdminPermissionCreate EventType = "admin.permission_create"
	EventTypeAdminPermissionDelete EventType = "admin.permission_delete"
	EventTypeAdminMenuItemCreate   EventType = "admin.menu_item_create"
	EventTypeAdminMenuItemDelete   EventType = "admin.menu_item_delete"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        int64       `json:"id"`
	EventID   string      `json:"event_id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor information
	UserID   *int64 `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent starts an event carrying the request's client address, user
// agent, request id, and authenticated user id.
func NewEvent(r *http.Request, eventType EventType, status EventStatus) *AuditEvent {
	event := &AuditEvent{
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		Metadata:  make(map[string]interface{}),
	}
	if r == nil {
		return event
	}

	event.IPAddress = httputil.ClientIP(r)
	event.UserAgent = truncate(r.UserAgent(), 255)
	event.RequestID = contextkeys.GetRequestID(r.Context())
	if userID, ok := contextkeys.GetUserID(r.Context()); ok {
		event.UserID = &userID
	}
	return event
}

// WithMetadata sets one metadata key and returns the event.
func (e *AuditEvent) WithMetadata(key string, value interface{}) *AuditEvent {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	UserID     *int64
	EventTypes []EventType
	Status     *EventStatus
	StartTime  *time.Time
	EndTime    *time.Time

	Limit  int
	Offset int
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
