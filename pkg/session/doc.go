// Package session issues, rotates, and invalidates authenticated sessions.
//
// A Session carries the principal's user id together with a snapshot of the
// role names, resolved permission names, and admin flag computed at login.
// The snapshot is what the authorization layer consults on every request.
//
// Identifiers are 256-bit random values delivered in an HttpOnly cookie that
// is marked Secure whenever the request arrived over TLS. Once more than half
// of the configured lifetime has passed since the last rotation, the next
// request is answered with a fresh identifier bound to the same payload. The
// identifier it replaced stays valid until the following rotation, so
// requests already in flight with the old cookie are not rejected.
//
//	manager := session.NewManager(session.NewMemoryStore(10000, time.Hour), session.DefaultConfig())
//	router.Use(manager.Middleware)
//
//	sess, ok := session.FromContext(r.Context())
package session
