package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/platinummonkey/collegeadmin/pkg/storage"
)

// ResetLedger is the durable store of password reset tokens.
type ResetLedger interface {
	// Issue stores tokenHash as the only live token of userID, replacing any
	// earlier token in the same statement.
	Issue(ctx context.Context, userID int64, tokenHash string, issuedAt, expiresAt time.Time) error
	// FindByHash returns ErrInvalidOrExpiredToken when no row matches.
	FindByHash(ctx context.Context, tokenHash string) (*PasswordResetToken, error)
	// Redeem deletes the token and stores the new password hash in one
	// transaction, clearing the lockout state. Nothing is written when
	// the token is already gone.
	Redeem(ctx context.Context, token *PasswordResetToken, passwordHash string, at time.Time) error
	// PurgeExpired deletes tokens that expired at or before now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// SQLResetLedger implements ResetLedger on database/sql.
type SQLResetLedger struct {
	db *sql.DB
}

// NewSQLResetLedger creates a reset ledger.
func NewSQLResetLedger(db *sql.DB) *SQLResetLedger {
	return &SQLResetLedger{db: db}
}

func (l *SQLResetLedger) Issue(ctx context.Context, userID int64, tokenHash string, issuedAt, expiresAt time.Time) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO password_resets (user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET token_hash = EXCLUDED.token_hash, expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at
	`, userID, tokenHash, expiresAt.UTC(), issuedAt.UTC())
	if err != nil {
		return storage.Wrap("issue reset token", err)
	}
	return nil
}

func (l *SQLResetLedger) FindByHash(ctx context.Context, tokenHash string) (*PasswordResetToken, error) {
	var t PasswordResetToken
	err := l.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, expires_at, created_at
		FROM password_resets
		WHERE token_hash = $1
	`, tokenHash).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, storage.Wrap("find reset token", err)
	}
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

func (l *SQLResetLedger) Redeem(ctx context.Context, token *PasswordResetToken, passwordHash string, at time.Time) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Wrap("begin reset", err)
	}
	defer tx.Rollback()

	// The delete claims the token. A concurrent redemption sees zero rows.
	result, err := tx.ExecContext(ctx, `
		DELETE FROM password_resets WHERE id = $1 AND token_hash = $2
	`, token.ID, token.TokenHash)
	if err != nil {
		return storage.Wrap("claim reset token", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return storage.Wrap("claim reset token", err)
	}
	if n == 0 {
		return ErrInvalidOrExpiredToken
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $1, failed_attempts = 0, lockout_until = NULL, updated_at = $2
		WHERE id = $3
	`, passwordHash, at.UTC(), token.UserID)
	if err != nil {
		return storage.Wrap("update password", err)
	}
	if n, err = result.RowsAffected(); err != nil {
		return storage.Wrap("update password", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}

	if err := tx.Commit(); err != nil {
		return storage.Wrap("commit reset", err)
	}
	return nil
}

func (l *SQLResetLedger) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, `DELETE FROM password_resets WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, storage.Wrap("purge reset tokens", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, storage.Wrap("purge reset tokens", err)
	}
	return n, nil
}
