// Package api wires the HTTP surface of the admin panel.
//
// # Endpoints
//
//	POST /api/auth/login              authenticate and start a session
//	POST /api/auth/logout             end the current session
//	GET  /api/auth/me                 the current principal
//	GET  /api/menu                    the menu tree visible to the principal
//	POST /api/auth/password/forgot    request a reset token
//	POST /api/auth/password/reset     set a new password with a token
//	POST /api/admin/users/{id}/unlock clear a lockout (users.unlock)
//	GET  /api/admin/users             list accounts (users.manage)
//	GET  /api/admin/users/{id}        one account (users.manage)
//	POST /api/admin/users/{id}/activate
//	POST /api/admin/users/{id}/deactivate
//
// Deactivation ends every session of the account; an administrator cannot
// deactivate their own account.
//
// The role, permission, user role, menu item, and audit administration
// routes are mounted under /api/admin by the rbac and audit packages.
//
// # Middleware
//
// Every route runs through client address resolution, request id, request
// logging, panic recovery,
// security headers, a body size limit, HTTP metrics, and the session
// middleware, in that order. Login and reset requests are throttled per
// client address when limiters are configured, and a successful login
// clears its address's login window. Forwarding headers name the client only
// when the peer is listed in Deps.TrustedProxies.
package api
