// Package async runs fire-and-forget work off the request path.
//
//	pool := async.NewPool("notifications", 4, 64, 30*time.Second, logger)
//	defer pool.Close(ctx)
//
//	err := pool.Submit(r.Context(), "reset email", func(ctx context.Context) error {
//		return mailer.Send(ctx, msg)
//	})
//
// Submit never blocks. A full queue returns ErrQueueFull and the caller
// decides whether to drop the work or run it inline. Failures and panics
// inside tasks are logged.
package async
