package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/platinummonkey/collegeadmin/pkg/observability"
	"github.com/platinummonkey/collegeadmin/pkg/storage"
)

// DefaultResetTTL is how long a reset token stays consumable.
const DefaultResetTTL = time.Hour

// ResetRequestMessage is returned for every reset request, whether or not
// the email belongs to an account.
const ResetRequestMessage = "If an account exists for that email, you will receive password reset instructions."

// Notifier delivers a reset link out of band.
type Notifier interface {
	NotifyPasswordReset(ctx context.Context, u *User, link string, expiresAt time.Time) error
}

// LogNotifier records that a reset link was issued. The link itself is not
// logged because it grants access to the account.
type LogNotifier struct {
	Logger *observability.Logger
}

func (n LogNotifier) NotifyPasswordReset(ctx context.Context, u *User, _ string, expiresAt time.Time) error {
	logger := n.Logger
	if logger == nil {
		logger = observability.FromContext(ctx)
	}
	logger.WithFields(map[string]interface{}{
		"user_id":    u.ID,
		"expires_at": expiresAt,
	}).Info("password reset link issued")
	return nil
}

// ResetRequestResult is the enumeration-safe reply to RequestReset.
type ResetRequestResult struct {
	Message string `json:"message"`
	// Link is set only when the service exposes links directly and the
	// email matched an active account.
	Link string `json:"link,omitempty"`
}

// ResetService runs the password reset flow.
type ResetService struct {
	users      UserStore
	ledger     ResetLedger
	hasher     PasswordHasher
	policy     PasswordPolicy
	tokens     *TokenGenerator
	notifier   Notifier
	ttl        time.Duration
	baseURL    string
	exposeLink bool
	onChanged  []func(ctx context.Context, userID int64)
	now        func() time.Time
	metrics    *observability.Metrics
}

// ResetOption configures a ResetService.
type ResetOption func(*ResetService)

// WithResetClock overrides the wall clock.
func WithResetClock(now func() time.Time) ResetOption {
	return func(s *ResetService) { s.now = now }
}

// WithTokenGenerator overrides the token source.
func WithTokenGenerator(g *TokenGenerator) ResetOption {
	return func(s *ResetService) { s.tokens = g }
}

// WithNotifier sets the delivery channel for reset links.
func WithNotifier(n Notifier) ResetOption {
	return func(s *ResetService) { s.notifier = n }
}

// WithResetTTL sets the token lifetime.
func WithResetTTL(ttl time.Duration) ResetOption {
	return func(s *ResetService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithResetLinkBase sets the URL the token is appended to.
func WithResetLinkBase(base string) ResetOption {
	return func(s *ResetService) { s.baseURL = base }
}

// WithExposedLinks returns reset links to the requester. This skips
// out-of-band verification and is only for deployments without a notifier.
func WithExposedLinks(expose bool) ResetOption {
	return func(s *ResetService) { s.exposeLink = expose }
}

// WithPasswordChangedHook registers fn to run after a successful reset,
// for example to end the user's other sessions.
func WithPasswordChangedHook(fn func(ctx context.Context, userID int64)) ResetOption {
	return func(s *ResetService) { s.onChanged = append(s.onChanged, fn) }
}

// WithResetMetrics sets the metrics sink.
func WithResetMetrics(m *observability.Metrics) ResetOption {
	return func(s *ResetService) { s.metrics = m }
}

// NewResetService creates the reset flow.
func NewResetService(users UserStore, ledger ResetLedger, hasher PasswordHasher, policy PasswordPolicy, opts ...ResetOption) *ResetService {
	s := &ResetService{
		users:    users,
		ledger:   ledger,
		hasher:   hasher,
		policy:   policy,
		tokens:   NewTokenGenerator(),
		notifier: LogNotifier{},
		ttl:      DefaultResetTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestReset issues a token for the active account owning email. The
// result is the same whether or not such an account exists. Only store and
// entropy failures are returned as errors.
func (s *ResetService) RequestReset(ctx context.Context, email string) (*ResetRequestResult, error) {
	ctx, span := observability.StartSpan(ctx, "auth.RequestReset")
	defer span.End()

	result := &ResetRequestResult{Message: ResetRequestMessage}
	logger := observability.FromContext(ctx)

	email = strings.TrimSpace(email)
	if email == "" {
		return nil, newValidationError("email", "is required")
	}

	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		s.metrics.ObserveReset("request", "unknown")
		return result, nil
	}
	if err != nil {
		s.metrics.ObserveReset("request", "error")
		return nil, err
	}
	if !u.IsActive {
		s.metrics.ObserveReset("request", "inactive")
		return result, nil
	}

	token, hash, err := s.tokens.GenerateToken()
	if err != nil {
		s.metrics.ObserveReset("request", "error")
		return nil, err
	}
	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)
	if err := s.ledger.Issue(ctx, u.ID, hash, now, expiresAt); err != nil {
		s.metrics.ObserveReset("request", "error")
		return nil, err
	}

	link := s.link(token)
	if err := s.notifier.NotifyPasswordReset(ctx, u, link, expiresAt); err != nil {
		// The token stays valid; the requester may ask again.
		logger.WithError(err).WithField("user_id", u.ID).Error("failed to deliver password reset link")
	}
	if s.exposeLink {
		result.Link = link
	}

	s.metrics.ObserveReset("request", "issued")
	return result, nil
}

func (s *ResetService) link(token string) string {
	if s.baseURL == "" {
		return token
	}
	sep := "?"
	if strings.Contains(s.baseURL, "?") {
		sep = "&"
	}
	return s.baseURL + sep + "token=" + url.QueryEscape(token)
}

// ConsumeReset sets a new password using token. The token is deleted only
// when the new password has been stored.
//
// Errors: ErrInvalidOrExpiredToken, *PolicyViolationError, *ValidationError,
// or a *storage.Error.
func (s *ResetService) ConsumeReset(ctx context.Context, token, newPassword string) error {
	ctx, span := observability.StartSpan(ctx, "auth.ConsumeReset")
	defer span.End()

	err := s.consume(ctx, token, newPassword)
	s.metrics.ObserveReset("consume", resetOutcome(err))
	if errors.Is(err, storage.ErrStorage) {
		span.RecordError(err)
	}
	return err
}

func (s *ResetService) consume(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return newValidationError("token", "is required")
	}
	if newPassword == "" {
		return newValidationError("password", "is required")
	}
	if !ValidTokenFormat(token) {
		return ErrInvalidOrExpiredToken
	}

	record, err := s.ledger.FindByHash(ctx, HashToken(token))
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if record.Expired(now) {
		return ErrInvalidOrExpiredToken
	}

	if err := s.policy.Check(newPassword); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	if err := s.ledger.Redeem(ctx, record, hash, now); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return err
	}

	observability.FromContext(ctx).WithField("user_id", record.UserID).Info("password reset completed")
	for _, fn := range s.onChanged {
		fn(ctx, record.UserID)
	}
	return nil
}

// PurgeExpired removes tokens that can no longer be consumed.
func (s *ResetService) PurgeExpired(ctx context.Context) (int64, error) {
	return s.ledger.PurgeExpired(ctx, s.now())
}

func resetOutcome(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, ErrInvalidOrExpiredToken):
		return "invalid_token"
	case errors.Is(err, ErrPasswordPolicy), errors.Is(err, ErrValidation):
		return "rejected"
	default:
		return "error"
	}
}
