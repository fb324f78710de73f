// Package audit records security-relevant events: logins and lockouts,
// password resets, permission denials, and RBAC mutations.
//
// Handlers build an event from the request and hand it to a Logger:
//
//	event := audit.NewEvent(r, audit.EventTypeAuthLoginFailed, audit.EventStatusFailure)
//	event.Username = username
//	_ = auditLogger.Log(ctx, event)
//
// DBLogger persists events to the audit_events table and serves them back
// through Search. LogLogger writes them to the structured log, and
// MultiLogger fans out to several destinations. Audit failures are logged
// by callers and never fail the audited request.
package audit
