package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/collegeadmin/pkg/observability"
	"github.com/platinummonkey/collegeadmin/pkg/session"
	"github.com/platinummonkey/collegeadmin/pkg/storage"
)

// GrantLoader resolves the roles and permissions cached on a new session.
type GrantLoader interface {
	LoadGrants(ctx context.Context, userID int64) (session.Grants, error)
}

// SessionIssuer mints a session for an authenticated user.
type SessionIssuer interface {
	Create(ctx context.Context, userID int64, username string, grants session.Grants) (*session.Session, error)
}

// Authenticator validates credentials and applies the lockout policy.
type Authenticator struct {
	users    UserStore
	hasher   PasswordHasher
	grants   GrantLoader
	sessions SessionIssuer
	lockout  LockoutPolicy
	policy   PasswordPolicy
	now      func() time.Time
	logger   *observability.Logger
	metrics  *observability.Metrics

	dummyOnce sync.Once
	dummyHash string
}

// AuthenticatorOption configures an Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) AuthenticatorOption {
	return func(a *Authenticator) { a.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) AuthenticatorOption {
	return func(a *Authenticator) { a.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) AuthenticatorOption {
	return func(a *Authenticator) { a.metrics = m }
}

// WithPasswordPolicy sets the policy applied by CreateUser.
func WithPasswordPolicy(p PasswordPolicy) AuthenticatorOption {
	return func(a *Authenticator) { a.policy = p }
}

// NewAuthenticator creates an authenticator. A non-positive threshold or
// duration falls back to DefaultLockoutPolicy.
func NewAuthenticator(users UserStore, hasher PasswordHasher, grants GrantLoader, sessions SessionIssuer, lockout LockoutPolicy, opts ...AuthenticatorOption) *Authenticator {
	defaults := DefaultLockoutPolicy()
	if lockout.Threshold <= 0 {
		lockout.Threshold = defaults.Threshold
	}
	if lockout.Duration <= 0 {
		lockout.Duration = defaults.Duration
	}

	a := &Authenticator{
		users:    users,
		hasher:   hasher,
		grants:   grants,
		sessions: sessions,
		lockout:  lockout,
		policy:   DefaultPasswordPolicy(),
		now:      time.Now,
		logger:   observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate checks username and password and returns a new session.
//
// Errors: *ValidationError for empty input, *InvalidCredentialsError for an
// unknown user or wrong password, ErrAccountLocked, ErrAccountInactive, or a
// *storage.Error. Counter and lockout writes are durable before it returns.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (*session.Session, error) {
	ctx, span := observability.StartSpan(ctx, "auth.Authenticate")
	defer span.End()

	start := time.Now()
	s, err := a.authenticate(ctx, username, password)
	a.metrics.ObserveLogin(loginOutcome(err), time.Since(start))
	if errors.Is(err, storage.ErrStorage) {
		span.RecordError(err)
	}
	return s, err
}

func (a *Authenticator) authenticate(ctx context.Context, username, password string) (*session.Session, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, newValidationError("username", "is required")
	}
	if password == "" {
		return nil, newValidationError("password", "is required")
	}

	logger := observability.FromContext(ctx).WithField("username", username)

	u, err := a.users.GetByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		a.compareDummy(password)
		logger.Info("login rejected: unknown username")
		return nil, &InvalidCredentialsError{}
	}
	if err != nil {
		return nil, err
	}

	now := a.now().UTC()
	if u.IsLocked(now) {
		logger.Info("login rejected: account locked")
		return nil, ErrAccountLocked
	}
	if !u.IsActive {
		logger.Info("login rejected: account inactive")
		return nil, ErrAccountInactive
	}

	ok, err := a.hasher.Verify(u.PasswordHash, password)
	if err != nil {
		return nil, storage.Wrap("verify password", err)
	}
	if !ok {
		return nil, a.recordFailure(ctx, logger, u, now)
	}

	if err := a.users.RecordLogin(ctx, u.ID, now); err != nil {
		return nil, err
	}
	grants, err := a.grants.LoadGrants(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	s, err := a.sessions.Create(ctx, u.ID, u.Username, grants)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	logger.WithField("user_id", u.ID).Info("login succeeded")
	return s, nil
}

// recordFailure counts a wrong password and locks the account at the threshold.
// A lockout that has already expired starts a fresh count.
func (a *Authenticator) recordFailure(ctx context.Context, logger *observability.Logger, u *User, now time.Time) error {
	attempts := u.FailedAttempts
	if u.LockoutUntil != nil {
		attempts = 0
	}
	attempts++

	if attempts >= a.lockout.Threshold {
		until := now.Add(a.lockout.Duration)
		if err := a.users.RecordFailedAttempt(ctx, u.ID, attempts, &until); err != nil {
			return err
		}
		a.metrics.AccountLocked()
		logger.WithFields(map[string]interface{}{
			"user_id":       u.ID,
			"attempts":      attempts,
			"lockout_until": until,
		}).Warn("account locked after repeated failures")
		return ErrAccountLocked
	}

	if err := a.users.RecordFailedAttempt(ctx, u.ID, attempts, nil); err != nil {
		return err
	}
	logger.WithField("attempts", attempts).Info("login rejected: wrong password")
	return &InvalidCredentialsError{AttemptsRemaining: a.lockout.Threshold - attempts}
}

// compareDummy spends one hash comparison so an unknown username costs
// about as much as a wrong password.
func (a *Authenticator) compareDummy(password string) {
	a.dummyOnce.Do(func() {
		hash, err := a.hasher.Hash("collegeadmin-dummy-password")
		if err == nil {
			a.dummyHash = hash
		}
	})
	if a.dummyHash != "" {
		_, _ = a.hasher.Verify(a.dummyHash, password)
	}
}

// Unlock clears the failed attempt counter and lockout of userID.
func (a *Authenticator) Unlock(ctx context.Context, userID int64) error {
	if err := a.users.Unlock(ctx, userID); err != nil {
		return err
	}
	observability.FromContext(ctx).WithField("target_user_id", userID).Info("account unlocked")
	return nil
}

// UnlockUsername unlocks the account named username.
func (a *Authenticator) UnlockUsername(ctx context.Context, username string) (*User, error) {
	u, err := a.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := a.Unlock(ctx, u.ID); err != nil {
		return nil, err
	}
	u.FailedAttempts = 0
	u.LockoutUntil = nil
	return u, nil
}

// ListUsers returns every account ordered by username.
func (a *Authenticator) ListUsers(ctx context.Context) ([]*User, error) {
	users, err := a.users.List(ctx)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []*User{}
	}
	return users, nil
}

// GetUser returns the account userID or ErrUserNotFound.
func (a *Authenticator) GetUser(ctx context.Context, userID int64) (*User, error) {
	return a.users.GetByID(ctx, userID)
}

// SetActive enables or disables sign in for userID. Disabled accounts are
// refused with ErrAccountInactive; existing sessions are the caller's to end.
func (a *Authenticator) SetActive(ctx context.Context, userID int64, active bool) (*User, error) {
	if err := a.users.SetActive(ctx, userID, active); err != nil {
		return nil, err
	}
	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"target_user_id": userID,
		"active":         active,
	}).Info("account activation changed")
	return a.users.GetByID(ctx, userID)
}

// CreateUser provisions an active account after validating input and the
// password policy.
func (a *Authenticator) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	u, err := a.newUser(nu)
	if err != nil {
		return nil, err
	}
	if err := a.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// ProvisionUser creates an account holding roleIDs. The user and its roles
// are written together, so a failed assignment leaves no account behind.
func (a *Authenticator) ProvisionUser(ctx context.Context, nu NewUser, roleIDs []int64) (*User, error) {
	if len(roleIDs) == 0 {
		return nil, newValidationError("roles", "at least one role is required")
	}
	u, err := a.newUser(nu)
	if err != nil {
		return nil, err
	}
	if err := a.users.CreateWithRoles(ctx, u, roleIDs); err != nil {
		return nil, err
	}
	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"target_user_id": u.ID,
		"roles":          len(roleIDs),
	}).Info("account provisioned")
	return u, nil
}

func (a *Authenticator) newUser(nu NewUser) (*User, error) {
	username := strings.TrimSpace(nu.Username)
	if username == "" {
		return nil, newValidationError("username", "is required")
	}
	if len(username) > 100 {
		return nil, newValidationError("username", "must be at most 100 characters")
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(nu.Email))
	if err != nil || addr.Address != strings.TrimSpace(nu.Email) {
		return nil, newValidationError("email", "must be a valid email address")
	}
	if err := a.policy.Check(nu.Password); err != nil {
		return nil, err
	}

	hash, err := a.hasher.Hash(nu.Password)
	if err != nil {
		return nil, err
	}

	return &User{
		Username:     username,
		Email:        addr.Address,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(nu.FullName),
		IsActive:     true,
		IsVerified:   nu.Verified,
	}, nil
}

func loginOutcome(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeSuccess
	case errors.Is(err, ErrValidation):
		return observability.OutcomeValidation
	case errors.Is(err, ErrInvalidCredentials):
		return observability.OutcomeInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return observability.OutcomeLocked
	case errors.Is(err, ErrAccountInactive):
		return observability.OutcomeInactive
	default:
		return observability.OutcomeError
	}
}
