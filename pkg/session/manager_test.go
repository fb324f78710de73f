package session

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/collegeadmin/pkg/observability"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestManager(t *testing.T) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	cfg := Config{Lifetime: time.Hour, CookieName: "sid", CookiePath: "/"}
	// store TTL is generous so the manager's clock decides expiry
	m := NewManager(NewMemoryStore(100, 24*time.Hour), cfg, WithClock(clock.Now))
	return m, clock
}

func TestManager_Create(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, 42, "alice", Grants{Roles: []string{"Staff"}, Permissions: []string{"dashboard.view"}})
	require.NoError(t, err)

	assert.Len(t, s.ID, IDBytes*2)
	assert.Equal(t, int64(42), s.UserID)
	assert.Equal(t, "alice", s.Username)
	assert.Equal(t, clock.now, s.CreatedAt)
	assert.Equal(t, clock.now, s.LastRotated)
	assert.Equal(t, []string{"dashboard.view"}, s.Permissions)

	other, err := m.Create(ctx, 42, "alice", Grants{})
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, other.ID)
	assert.Equal(t, 2, m.Count())
}

func TestManager_LookupIdleExpiry(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, 1, "bob", Grants{})
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	_, err = m.Lookup(ctx, s.ID)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = m.Lookup(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_TouchSlidesExpiry(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, 1, "bob", Grants{})
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)
	s, err = m.Touch(ctx, s)
	require.NoError(t, err)

	clock.Advance(50 * time.Minute)
	_, err = m.Lookup(ctx, s.ID)
	assert.NoError(t, err)
}

func TestManager_Rotation(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, 5, "carol", Grants{Roles: []string{"Staff"}})
	require.NoError(t, err)
	firstID := s.ID

	// under half the lifetime: no rotation
	clock.Advance(29 * time.Minute)
	s, err = m.Touch(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, firstID, s.ID)

	clock.Advance(2 * time.Minute)
	s, err = m.Touch(ctx, s)
	require.NoError(t, err)
	assert.NotEqual(t, firstID, s.ID)
	assert.Equal(t, firstID, s.PreviousID)
	assert.Equal(t, int64(5), s.UserID)
	assert.Equal(t, []string{"Staff"}, s.Roles)
	secondID := s.ID

	// the replaced identifier still resolves to the rotated session
	viaOld, err := m.Lookup(ctx, firstID)
	require.NoError(t, err)
	assert.Equal(t, secondID, viaOld.ID)

	clock.Advance(31 * time.Minute)
	s, err = m.Touch(ctx, s)
	require.NoError(t, err)
	assert.NotEqual(t, secondID, s.ID)

	_, err = m.Lookup(ctx, firstID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Lookup(ctx, secondID)
	assert.NoError(t, err)
}

func TestManager_RotationMetrics(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	m := NewManager(NewMemoryStore(10, 24*time.Hour), Config{Lifetime: time.Hour},
		WithClock(clock.Now), WithMetrics(metrics))
	ctx := context.Background()

	s, err := m.Create(ctx, 1, "dave", Grants{})
	require.NoError(t, err)
	clock.Advance(40 * time.Minute)
	_, err = m.Touch(ctx, s)
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SessionsCreatedTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SessionRotationsTotal))
}

func TestManager_Destroy(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, 1, "erin", Grants{})
	require.NoError(t, err)

	require.NoError(t, m.Destroy(ctx, s))
	_, err = m.Lookup(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Touch(ctx, s)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, m.Destroy(ctx, nil))
}

func TestManager_DestroyAfterRotationInvalidatesBothIDs(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, 1, "erin", Grants{})
	require.NoError(t, err)
	oldID := s.ID
	clock.Advance(45 * time.Minute)
	s, err = m.Touch(ctx, s)
	require.NoError(t, err)

	require.NoError(t, m.Destroy(ctx, s))
	_, err = m.Lookup(ctx, oldID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Lookup(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_DestroyUser(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	a, err := m.Create(ctx, 1, "frank", Grants{})
	require.NoError(t, err)
	b, err := m.Create(ctx, 1, "frank", Grants{})
	require.NoError(t, err)
	other, err := m.Create(ctx, 2, "grace", Grants{})
	require.NoError(t, err)

	removed, err := m.DestroyUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = m.Lookup(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Lookup(ctx, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Lookup(ctx, other.ID)
	assert.NoError(t, err)
}

func TestManager_SetCookie(t *testing.T) {
	m, _ := newTestManager(t)
	s := &Session{ID: "abc"}

	rec := httptest.NewRecorder()
	m.SetCookie(rec, httptest.NewRequest(http.MethodGet, "/", nil), s)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, "sid", c.Name)
	assert.Equal(t, "abc", c.Value)
	assert.True(t, c.HttpOnly)
	assert.False(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 3600, c.MaxAge)

	tlsReq := httptest.NewRequest(http.MethodGet, "/", nil)
	tlsReq.TLS = &tls.ConnectionState{}
	rec = httptest.NewRecorder()
	m.SetCookie(rec, tlsReq, s)
	assert.True(t, rec.Result().Cookies()[0].Secure)
}

func TestManager_Middleware(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, 9, "heidi", Grants{Permissions: []string{"dashboard.view"}})
	require.NoError(t, err)

	var seen *Session
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	t.Run("anonymous without cookie", func(t *testing.T) {
		seen = nil
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Nil(t, seen)
	})

	t.Run("unknown cookie is cleared", func(t *testing.T) {
		seen = nil
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "sid", Value: "bogus"})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Nil(t, seen)
		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, -1, cookies[0].MaxAge)
	})

	t.Run("valid cookie attaches session", func(t *testing.T) {
		seen = nil
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "sid", Value: s.ID})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.NotNil(t, seen)
		assert.Equal(t, int64(9), seen.UserID)
		assert.Empty(t, rec.Result().Cookies())
	})

	t.Run("rotation reissues cookie", func(t *testing.T) {
		clock.Advance(40 * time.Minute)
		seen = nil
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "sid", Value: s.ID})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.NotNil(t, seen)
		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, seen.ID, cookies[0].Value)
		assert.NotEqual(t, s.ID, cookies[0].Value)
	})
}
