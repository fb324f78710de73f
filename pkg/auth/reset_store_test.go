package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/collegeadmin/pkg/storage"
)

func countResets(t *testing.T, f *fixture, userID int64) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM password_resets WHERE user_id = $1`, userID).Scan(&n))
	return n
}

func TestSQLResetLedger_IssueReplacesPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "alice", "alice@example.com")
	now := f.clock.Now()

	require.NoError(t, f.ledger.Issue(ctx, u.ID, HashToken("first"), now, now.Add(time.Hour)))
	require.NoError(t, f.ledger.Issue(ctx, u.ID, HashToken("second"), now, now.Add(time.Hour)))
	assert.Equal(t, 1, countResets(t, f, u.ID))

	_, err := f.ledger.FindByHash(ctx, HashToken("first"))
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	record, err := f.ledger.FindByHash(ctx, HashToken("second"))
	require.NoError(t, err)
	assert.Equal(t, u.ID, record.UserID)
	assert.True(t, now.Add(time.Hour).Equal(record.ExpiresAt))
}

func TestSQLResetLedger_Redeem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "bob", "bob@example.com")
	now := f.clock.Now()

	until := now.Add(time.Hour)
	require.NoError(t, f.users.RecordFailedAttempt(ctx, u.ID, 5, &until))
	require.NoError(t, f.ledger.Issue(ctx, u.ID, HashToken("tok"), now, now.Add(time.Hour)))

	record, err := f.ledger.FindByHash(ctx, HashToken("tok"))
	require.NoError(t, err)
	require.NoError(t, f.ledger.Redeem(ctx, record, "new-hash", now))

	got := f.reload(t, u.ID)
	assert.Equal(t, "new-hash", got.PasswordHash)
	assert.Zero(t, got.FailedAttempts)
	assert.Nil(t, got.LockoutUntil)
	assert.Equal(t, 0, countResets(t, f, u.ID))

	// single use
	assert.ErrorIs(t, f.ledger.Redeem(ctx, record, "other-hash", now), ErrInvalidOrExpiredToken)
	assert.Equal(t, "new-hash", f.reload(t, u.ID).PasswordHash)
}

func TestSQLResetLedger_RedeemStaleRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "carol", "carol@example.com")
	now := f.clock.Now()

	require.NoError(t, f.ledger.Issue(ctx, u.ID, HashToken("old"), now, now.Add(time.Hour)))
	stale, err := f.ledger.FindByHash(ctx, HashToken("old"))
	require.NoError(t, err)

	// reissue keeps the row id but changes the hash
	require.NoError(t, f.ledger.Issue(ctx, u.ID, HashToken("new"), now, now.Add(time.Hour)))

	assert.ErrorIs(t, f.ledger.Redeem(ctx, stale, "hash", now), ErrInvalidOrExpiredToken)
	assert.Equal(t, 1, countResets(t, f, u.ID))
}

func TestSQLResetLedger_PurgeExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()
	a := f.createUser(t, "dan", "dan@example.com")
	b := f.createUser(t, "erin", "erin@example.com")

	require.NoError(t, f.ledger.Issue(ctx, a.ID, HashToken("a"), now.Add(-2*time.Hour), now.Add(-time.Hour)))
	require.NoError(t, f.ledger.Issue(ctx, b.ID, HashToken("b"), now, now.Add(time.Hour)))

	n, err := f.ledger.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 0, countResets(t, f, a.ID))
	assert.Equal(t, 1, countResets(t, f, b.ID))
}

func TestSQLResetLedger_RedeemRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ledger := NewSQLResetLedger(db)
	record := &PasswordResetToken{ID: 1, UserID: 7, TokenHash: "h"}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM password_resets").
		WithArgs(int64(1), "h").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE users").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = ledger.Redeem(context.Background(), record, "new-hash", time.Now())
	assert.ErrorIs(t, err, storage.ErrStorage)
	assert.NoError(t, mock.ExpectationsWereMet())
}
