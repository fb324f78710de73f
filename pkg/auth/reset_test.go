package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/collegeadmin/pkg/session"
)

const newPassword = "Brand-New-Pass2"

func newResetService(f *fixture, notifier Notifier, opts ...ResetOption) *ResetService {
	opts = append([]ResetOption{
		WithResetClock(f.clock.Now),
		WithNotifier(notifier),
	}, opts...)
	return NewResetService(f.users, f.ledger, f.hasher, DefaultPasswordPolicy(), opts...)
}

func TestRequestReset_UniformResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createUser(t, "alice", "alice@example.com")
	notifier := &recordingNotifier{}
	svc := newResetService(f, notifier)

	known, err := svc.RequestReset(ctx, "alice@example.com")
	require.NoError(t, err)
	unknown, err := svc.RequestReset(ctx, "nobody@example.com")
	require.NoError(t, err)

	assert.Equal(t, known, unknown)
	assert.Equal(t, ResetRequestMessage, known.Message)
	assert.Empty(t, known.Link)
	assert.Len(t, notifier.links, 1)
}

func TestRequestReset_InactiveUserGetsNoToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "bob", "bob@example.com")
	require.NoError(t, f.users.SetActive(ctx, u.ID, false))
	notifier := &recordingNotifier{}
	svc := newResetService(f, notifier)

	result, err := svc.RequestReset(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, ResetRequestMessage, result.Message)
	assert.Empty(t, notifier.links)
	assert.Equal(t, 0, countResets(t, f, u.ID))
}

func TestRequestReset_RequiresEmail(t *testing.T) {
	f := newFixture(t)
	svc := newResetService(f, &recordingNotifier{})

	_, err := svc.RequestReset(context.Background(), " ")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestResetRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "carol", "carol@example.com")
	notifier := &recordingNotifier{}
	svc := newResetService(f, notifier)

	_, err := svc.RequestReset(ctx, "carol@example.com")
	require.NoError(t, err)
	token := notifier.last()
	require.True(t, ValidTokenFormat(token))

	require.NoError(t, svc.ConsumeReset(ctx, token, newPassword))
	assert.Equal(t, 0, countResets(t, f, u.ID))

	hash := f.reload(t, u.ID).PasswordHash
	ok, err := f.hasher.Verify(hash, newPassword)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.hasher.Verify(hash, testPassword)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, svc.ConsumeReset(ctx, token, "Another-Pass3"), ErrInvalidOrExpiredToken)

	_, err = f.authn.Authenticate(ctx, "carol", newPassword)
	assert.NoError(t, err)
	_, err = f.authn.Authenticate(ctx, "carol", testPassword)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestResetSecondRequestInvalidatesFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createUser(t, "dan", "dan@example.com")
	notifier := &recordingNotifier{}
	svc := newResetService(f, notifier)

	_, err := svc.RequestReset(ctx, "dan@example.com")
	require.NoError(t, err)
	first := notifier.last()

	_, err = svc.RequestReset(ctx, "dan@example.com")
	require.NoError(t, err)
	second := notifier.last()
	require.NotEqual(t, first, second)

	assert.ErrorIs(t, svc.ConsumeReset(ctx, first, newPassword), ErrInvalidOrExpiredToken)
	assert.NoError(t, svc.ConsumeReset(ctx, second, newPassword))
}

func TestConsumeReset_ExpiredToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "erin", "erin@example.com")
	svc := newResetService(f, &recordingNotifier{})

	token, hash, err := NewTokenGenerator().GenerateToken()
	require.NoError(t, err)
	now := f.clock.Now()
	require.NoError(t, f.ledger.Issue(ctx, u.ID, hash, now.Add(-time.Hour), now.Add(-time.Second)))

	assert.ErrorIs(t, svc.ConsumeReset(ctx, token, newPassword), ErrInvalidOrExpiredToken)
	ok, err := f.hasher.Verify(f.reload(t, u.ID).PasswordHash, testPassword)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConsumeReset_ExpiresAfterTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createUser(t, "fay", "fay@example.com")
	notifier := &recordingNotifier{}
	svc := newResetService(f, notifier, WithResetTTL(30*time.Minute))

	_, err := svc.RequestReset(ctx, "fay@example.com")
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	assert.ErrorIs(t, svc.ConsumeReset(ctx, notifier.last(), newPassword), ErrInvalidOrExpiredToken)
}

func TestConsumeReset_PolicyViolationKeepsToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "gus", "gus@example.com")
	notifier := &recordingNotifier{}
	svc := newResetService(f, notifier)

	_, err := svc.RequestReset(ctx, "gus@example.com")
	require.NoError(t, err)
	token := notifier.last()

	err = svc.ConsumeReset(ctx, token, "short")
	var pv *PolicyViolationError
	require.ErrorAs(t, err, &pv)
	assert.Len(t, pv.Rules, 4)
	assert.Equal(t, 1, countResets(t, f, u.ID))

	assert.NoError(t, svc.ConsumeReset(ctx, token, newPassword))
}

func TestConsumeReset_MalformedToken(t *testing.T) {
	f := newFixture(t)
	svc := newResetService(f, &recordingNotifier{})

	assert.ErrorIs(t, svc.ConsumeReset(context.Background(), "", newPassword), ErrValidation)
	assert.ErrorIs(t, svc.ConsumeReset(context.Background(), "not-a-token", newPassword), ErrInvalidOrExpiredToken)
	assert.ErrorIs(t, svc.ConsumeReset(context.Background(), strings.Repeat("ab", TokenLength), newPassword), ErrInvalidOrExpiredToken)
	assert.ErrorIs(t, svc.ConsumeReset(context.Background(), strings.Repeat("ab", TokenLength), ""), ErrValidation)
}

func TestConsumeReset_UnlocksAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "hal", "hal@example.com")
	notifier := &recordingNotifier{}
	svc := newResetService(f, notifier)

	for i := 0; i < 5; i++ {
		_, _ = f.authn.Authenticate(ctx, "hal", "wrong")
	}
	require.True(t, f.reload(t, u.ID).IsLocked(f.clock.Now()))

	_, err := svc.RequestReset(ctx, "hal@example.com")
	require.NoError(t, err)
	require.NoError(t, svc.ConsumeReset(ctx, notifier.last(), newPassword))

	got := f.reload(t, u.ID)
	assert.Nil(t, got.LockoutUntil)
	assert.Zero(t, got.FailedAttempts)

	_, err = f.authn.Authenticate(ctx, "hal", newPassword)
	assert.NoError(t, err)
}

func TestRequestReset_ExposedLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createUser(t, "ida", "ida@example.com")
	notifier := &recordingNotifier{}
	svc := newResetService(f, notifier,
		WithExposedLinks(true),
		WithResetLinkBase("https://admin.example.edu/reset-password"))

	result, err := svc.RequestReset(ctx, "ida@example.com")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.Link, "https://admin.example.edu/reset-password?token="))
	assert.Equal(t, notifier.last(), result.Link)

	unknown, err := svc.RequestReset(ctx, "ghost@example.com")
	require.NoError(t, err)
	assert.Empty(t, unknown.Link)
}

func TestRequestReset_NotifierFailureIsNotSurfaced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "jan", "jan@example.com")
	notifier := &recordingNotifier{err: errors.New("smtp down")}
	svc := newResetService(f, notifier)

	result, err := svc.RequestReset(ctx, "jan@example.com")
	require.NoError(t, err)
	assert.Equal(t, ResetRequestMessage, result.Message)
	assert.Equal(t, 1, countResets(t, f, u.ID))
}

func TestConsumeReset_PasswordChangedHookEndsSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "kai", "kai@example.com")
	notifier := &recordingNotifier{}

	var changed []int64
	svc := newResetService(f, notifier,
		WithPasswordChangedHook(func(ctx context.Context, userID int64) {
			changed = append(changed, userID)
			_, _ = f.sessions.DestroyUser(ctx, userID)
		}))

	s, err := f.authn.Authenticate(ctx, "kai", testPassword)
	require.NoError(t, err)

	_, err = svc.RequestReset(ctx, "kai@example.com")
	require.NoError(t, err)
	require.NoError(t, svc.ConsumeReset(ctx, notifier.last(), newPassword))

	assert.Equal(t, []int64{u.ID}, changed)
	_, err = f.sessions.Lookup(ctx, s.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestResetService_PurgeExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "lou", "lou@example.com")
	svc := newResetService(f, &recordingNotifier{})

	_, err := svc.RequestReset(ctx, "lou@example.com")
	require.NoError(t, err)

	n, err := svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(2 * time.Hour)
	n, err = svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 0, countResets(t, f, u.ID))
}
