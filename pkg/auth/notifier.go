package auth

import (
	"context"
	"time"

	"github.com/platinummonkey/collegeadmin/pkg/async"
	"github.com/platinummonkey/collegeadmin/pkg/observability"
)

// AsyncNotifier hands deliveries to a background pool so a reset request
// answers in the same time whether or not the email matched an account.
type AsyncNotifier struct {
	Next Notifier
	Pool *async.Pool
}

// NotifyPasswordReset queues delivery. When the queue is full the delivery
// is dropped and logged; the token stays valid and the user can ask again.
func (n AsyncNotifier) NotifyPasswordReset(ctx context.Context, u *User, link string, expiresAt time.Time) error {
	recipient := *u
	err := n.Pool.Submit(ctx, "password reset notification", func(ctx context.Context) error {
		return n.Next.NotifyPasswordReset(ctx, &recipient, link, expiresAt)
	})
	if err != nil {
		observability.FromContext(ctx).WithError(err).WithField("user_id", u.ID).Warn("reset notification dropped")
	}
	return nil
}
