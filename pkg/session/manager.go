package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/platinummonkey/collegeadmin/pkg/httputil"
	"github.com/platinummonkey/collegeadmin/pkg/observability"
)

// IDBytes is the amount of randomness in a session identifier.
const IDBytes = 32

// Config controls lifetime and cookie scoping.
type Config struct {
	// Lifetime is the idle timeout. Identifiers rotate after half of it.
	Lifetime   time.Duration
	CookieName string
	CookiePath string
}

// DefaultConfig returns a one hour lifetime.
func DefaultConfig() Config {
	return Config{
		Lifetime:   time.Hour,
		CookieName: "college_session",
		CookiePath: "/",
	}
}

// Manager owns session creation, rotation, and destruction.
type Manager struct {
	store   Store
	cfg     Config
	now     func() time.Time
	random  io.Reader
	logger  *observability.Logger
	metrics *observability.Metrics

	// rotation is read-modify-write on the stored record
	mu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRandom overrides the identifier entropy source.
func WithRandom(r io.Reader) Option {
	return func(m *Manager) { m.random = r }
}

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a manager backed by store.
func NewManager(store Store, cfg Config, opts ...Option) *Manager {
	defaults := DefaultConfig()
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = defaults.Lifetime
	}
	if cfg.CookieName == "" {
		cfg.CookieName = defaults.CookieName
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = defaults.CookiePath
	}

	m := &Manager{
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		random: rand.Reader,
		logger: observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) newID() (string, error) {
	b := make([]byte, IDBytes)
	if _, err := io.ReadFull(m.random, b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Create issues a session for userID carrying the grant snapshot.
func (m *Manager) Create(ctx context.Context, userID int64, username string, grants Grants) (*Session, error) {
	id, err := m.newID()
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	s := &Session{
		ID:          id,
		UserID:      userID,
		Username:    username,
		Roles:       append([]string(nil), grants.Roles...),
		Permissions: append([]string(nil), grants.Permissions...),
		IsAdmin:     grants.IsAdmin,
		CreatedAt:   now,
		LastRotated: now,
		LastSeen:    now,
	}
	if err := m.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	m.metrics.SessionCreated()
	m.logger.WithFields(map[string]interface{}{"user_id": userID}).Debug("session created")
	return s.clone(), nil
}

// Lookup resolves id to a live session. The returned session's ID differs
// from id when id is the identifier replaced by the last rotation.
func (m *Manager) Lookup(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.now().Sub(s.LastSeen) > m.cfg.Lifetime {
		if err := m.store.Delete(ctx, s.ID); err != nil {
			return nil, fmt.Errorf("failed to delete expired session: %w", err)
		}
		return nil, ErrNotFound
	}
	return s, nil
}

// Touch records activity on s and rotates its identifier once more than half
// the lifetime has passed since the last rotation. It returns the current
// state; compare its ID with the presented one to decide whether to reissue
// the cookie.
func (m *Manager) Touch(ctx context.Context, s *Session) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.store.Get(ctx, s.ID)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	current.LastSeen = now

	if now.Sub(current.LastRotated) > m.cfg.Lifetime/2 {
		id, err := m.newID()
		if err != nil {
			return nil, err
		}
		current.PreviousID = current.ID
		current.ID = id
		current.LastRotated = now
		m.metrics.SessionRotated()
		m.logger.WithField("user_id", current.UserID).Debug("session rotated")
	}

	if err := m.store.Save(ctx, current); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return current, nil
}

// Destroy invalidates s. Later requests presenting its identifiers are anonymous.
func (m *Manager) Destroy(ctx context.Context, s *Session) error {
	if s == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Delete(ctx, s.ID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DestroyUser invalidates every session of userID and returns how many were removed.
func (m *Manager) DestroyUser(ctx context.Context, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	removed := 0
	for _, s := range sessions {
		if s.UserID != userID {
			continue
		}
		if err := m.store.Delete(ctx, s.ID); err != nil {
			return removed, fmt.Errorf("failed to delete session: %w", err)
		}
		removed++
	}
	return removed, nil
}

// Count reports live sessions for the active-sessions gauge.
func (m *Manager) Count() int {
	return m.store.Len()
}

// SetCookie writes the session cookie for s.
func (m *Manager) SetCookie(w http.ResponseWriter, r *http.Request, s *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    s.ID,
		Path:     m.cfg.CookiePath,
		MaxAge:   int(m.cfg.Lifetime.Seconds()),
		HttpOnly: true,
		Secure:   httputil.IsSecure(r),
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func (m *Manager) ClearCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     m.cfg.CookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   httputil.IsSecure(r),
		SameSite: http.SameSiteLaxMode,
	})
}

// Middleware attaches the caller's session to the request context, rotating
// it when due. Requests without a valid session continue anonymously.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(m.cfg.CookieName)
		if err != nil || c.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		logger := observability.FromContext(ctx)

		s, err := m.Lookup(ctx, c.Value)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				logger.WithError(err).Error("failed to load session")
			}
			m.ClearCookie(w, r)
			next.ServeHTTP(w, r)
			return
		}

		s, err = m.Touch(ctx, s)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				logger.WithError(err).Error("failed to refresh session")
			}
			m.ClearCookie(w, r)
			next.ServeHTTP(w, r)
			return
		}

		if s.ID != c.Value {
			m.SetCookie(w, r, s)
		}
		next.ServeHTTP(w, r.WithContext(WithSession(ctx, s)))
	})
}
