package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Typed errors below match them with errors.Is.
var (
	ErrValidation            = errors.New("validation failed")
	ErrInvalidCredentials    = errors.New("invalid username or password")
	ErrAccountLocked         = errors.New("account is temporarily locked, try again later")
	ErrAccountInactive       = errors.New("account is inactive")
	ErrInvalidOrExpiredToken = errors.New("reset token is invalid or has expired")
	ErrPasswordPolicy        = errors.New("password does not meet the password policy")
	ErrUserNotFound          = errors.New("user not found")
)

// ValidationError reports missing or malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func newValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// InvalidCredentialsError is returned for both an unknown username and a
// wrong password. The message is identical in both cases.
type InvalidCredentialsError struct {
	// AttemptsRemaining is zero when the username was unknown.
	AttemptsRemaining int
}

func (e *InvalidCredentialsError) Error() string { return ErrInvalidCredentials.Error() }

func (e *InvalidCredentialsError) Is(target error) bool { return target == ErrInvalidCredentials }

// PolicyViolationError lists every unmet password rule.
type PolicyViolationError struct {
	Rules []string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPasswordPolicy.Error(), strings.Join(e.Rules, "; "))
}

func (e *PolicyViolationError) Is(target error) bool { return target == ErrPasswordPolicy }
