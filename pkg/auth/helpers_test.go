package auth

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/collegeadmin/pkg/session"
	"github.com/platinummonkey/collegeadmin/pkg/storage/storagetest"
)

const testPassword = "Correct-Horse1"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type staticGrants session.Grants

func (g staticGrants) LoadGrants(context.Context, int64) (session.Grants, error) {
	return session.Grants(g), nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	links []string
	err   error
}

func (n *recordingNotifier) NotifyPasswordReset(_ context.Context, _ *User, link string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.links = append(n.links, link)
	return n.err
}

func (n *recordingNotifier) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.links) == 0 {
		return ""
	}
	return n.links[len(n.links)-1]
}

type fixture struct {
	db       *sql.DB
	clock    *testClock
	users    *SQLUserStore
	ledger   *SQLResetLedger
	hasher   *BcryptHasher
	sessions *session.Manager
	authn    *Authenticator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storagetest.NewDB(t)
	clock := newTestClock()

	f := &fixture{
		db:       db,
		clock:    clock,
		users:    NewSQLUserStore(db),
		ledger:   NewSQLResetLedger(db),
		hasher:   NewBcryptHasher(bcrypt.MinCost),
		sessions: session.NewManager(session.NewMemoryStore(100, time.Hour), session.DefaultConfig()),
	}
	f.authn = NewAuthenticator(
		f.users,
		f.hasher,
		staticGrants{Roles: []string{"Staff"}, Permissions: []string{"dashboard.view"}},
		f.sessions,
		DefaultLockoutPolicy(),
		WithClock(clock.Now),
	)
	return f
}

func (f *fixture) createUser(t *testing.T, username, email string) *User {
	t.Helper()
	u, err := f.authn.CreateUser(context.Background(), NewUser{
		Username: username,
		Email:    email,
		Password: testPassword,
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) reload(t *testing.T, id int64) *User {
	t.Helper()
	u, err := f.users.GetByID(context.Background(), id)
	require.NoError(t, err)
	return u
}
