// Package auth implements credential verification for the admin panel.
//
// # Overview
//
// The package owns the Credential Store (users, password hashes, lockout
// counters), the Password Reset Ledger, and the two state machines that
// mutate them: the Authenticator and the ResetService.
//
// # Authentication
//
//	authn := auth.NewAuthenticator(users, hasher, grants, sessions, auth.DefaultLockoutPolicy())
//	s, err := authn.Authenticate(ctx, "alice", password)
//	switch {
//	case errors.Is(err, auth.ErrAccountLocked):
//	case errors.Is(err, auth.ErrInvalidCredentials):
//	}
//
// A wrong username and a wrong password both yield ErrInvalidCredentials.
// Lockout and inactivity are checked before the password and reported
// specifically. After LockoutPolicy.Threshold consecutive failures the
// account is refused for LockoutPolicy.Duration regardless of the password.
//
// # Password reset
//
//	result, err := resets.RequestReset(ctx, email)   // same result for unknown emails
//	err = resets.ConsumeReset(ctx, token, newPassword)
//
// Tokens are 32 random bytes, hex encoded, and only their SHA-256 digest is
// stored. Each user has at most one live token and a token is deleted by the
// consumption that uses it. Tokens are handed to a Notifier; LogNotifier
// records that a link was issued without writing the token itself.
//
// # Errors
//
// Every failure is typed. Match with errors.Is against ErrValidation,
// ErrInvalidCredentials, ErrAccountLocked, ErrAccountInactive,
// ErrInvalidOrExpiredToken, ErrPasswordPolicy, or storage.ErrStorage, and
// use errors.As for *ValidationError, *InvalidCredentialsError and
// *PolicyViolationError details.
package auth
