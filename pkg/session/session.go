package session

import (
	"context"
	"time"

	"github.com/platinummonkey/collegeadmin/pkg/contextkeys"
)

// Grants is the role and permission snapshot cached on a session.
type Grants struct {
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	IsAdmin     bool     `json:"is_admin"`
}

// Session ties a browser to an authenticated user.
type Session struct {
	ID          string    `json:"-"`
	UserID      int64     `json:"user_id"`
	Username    string    `json:"username"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions"`
	IsAdmin     bool      `json:"is_admin"`
	CreatedAt   time.Time `json:"created_at"`
	LastRotated time.Time `json:"last_rotated"`
	LastSeen    time.Time `json:"last_seen"`

	// PreviousID is the identifier replaced by the most recent rotation.
	PreviousID string `json:"-"`
}

// Grants returns the cached snapshot.
func (s *Session) Grants() Grants {
	return Grants{Roles: s.Roles, Permissions: s.Permissions, IsAdmin: s.IsAdmin}
}

func (s *Session) clone() *Session {
	c := *s
	c.Roles = append([]string(nil), s.Roles...)
	c.Permissions = append([]string(nil), s.Permissions...)
	return &c
}

// FromContext returns the session attached by Manager.Middleware.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextkeys.SessionKey).(*Session)
	return s, ok && s != nil
}

// WithSession attaches s to ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	ctx = contextkeys.WithSession(ctx, s)
	return contextkeys.WithUserID(ctx, s.UserID)
}
