package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/platinummonkey/collegeadmin/pkg/storage"
)

// UserStore is the Credential Store. Lookups return ErrUserNotFound for
// missing rows; store failures are *storage.Error.
type UserStore interface {
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	Create(ctx context.Context, u *User) error
	// CreateWithRoles inserts u and its role assignments atomically. An
	// empty or unknown role set leaves no user behind.
	CreateWithRoles(ctx context.Context, u *User, roleIDs []int64) error
	// RecordFailedAttempt stores the new counter and lockout deadline.
	// A nil lockoutUntil clears any previous lockout.
	RecordFailedAttempt(ctx context.Context, id int64, attempts int, lockoutUntil *time.Time) error
	// RecordLogin resets the counter, clears lockout, and stamps last login.
	RecordLogin(ctx context.Context, id int64, at time.Time) error
	Unlock(ctx context.Context, id int64) error
	SetActive(ctx context.Context, id int64, active bool) error
	List(ctx context.Context) ([]*User, error)
	// ClearExpiredLockouts resets users whose lockout ended before now.
	ClearExpiredLockouts(ctx context.Context, now time.Time) (int64, error)
}

// SQLUserStore implements UserStore on database/sql.
type SQLUserStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLUserStore creates a user store.
func NewSQLUserStore(db *sql.DB) *SQLUserStore {
	return &SQLUserStore{db: db, now: time.Now}
}

const userColumns = `id, username, email, password_hash, full_name, is_active, is_verified,
	failed_attempts, lockout_until, last_login_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var lockoutUntil, lastLogin sql.NullTime
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.FullName,
		&u.IsActive,
		&u.IsVerified,
		&u.FailedAttempts,
		&lockoutUntil,
		&lastLogin,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lockoutUntil.Valid {
		t := lockoutUntil.Time.UTC()
		u.LockoutUntil = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time.UTC()
		u.LastLoginAt = &t
	}
	return &u, nil
}

func (s *SQLUserStore) getOne(ctx context.Context, op, where string, arg interface{}) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, storage.Wrap(op, err)
	}
	return u, nil
}

func (s *SQLUserStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	return s.getOne(ctx, "get user by username", "username = $1", username)
}

// GetByEmail matches case-insensitively; emails are stored lowercased.
func (s *SQLUserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.getOne(ctx, "get user by email", "email = $1", normalizeEmail(email))
}

func (s *SQLUserStore) GetByID(ctx context.Context, id int64) (*User, error) {
	return s.getOne(ctx, "get user by id", "id = $1", id)
}

type execQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Create inserts u and fills its id and timestamps. A duplicate username or
// email is a *ValidationError.
func (s *SQLUserStore) Create(ctx context.Context, u *User) error {
	return s.insert(ctx, s.db, u)
}

// CreateWithRoles inserts u and one user_roles row per role in a single
// transaction.
func (s *SQLUserStore) CreateWithRoles(ctx context.Context, u *User, roleIDs []int64) error {
	if len(roleIDs) == 0 {
		return newValidationError("roles", "at least one role is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Wrap("create user", err)
	}
	defer tx.Rollback()

	created := *u
	if err := s.insert(ctx, tx, &created); err != nil {
		return err
	}
	seen := make(map[int64]bool, len(roleIDs))
	for _, roleID := range roleIDs {
		if seen[roleID] {
			continue
		}
		seen[roleID] = true
		_, err := tx.ExecContext(ctx, `
			INSERT INTO user_roles (user_id, role_id, created_at) VALUES ($1, $2, $3)
		`, created.ID, roleID, created.CreatedAt)
		if err != nil {
			if storage.IsForeignKeyViolation(err) {
				return newValidationError("roles", "unknown role")
			}
			return storage.Wrap("assign user role", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storage.Wrap("create user", err)
	}
	*u = created
	return nil
}

func (s *SQLUserStore) insert(ctx context.Context, q execQuerier, u *User) error {
	now := s.now().UTC()
	u.Email = normalizeEmail(u.Email)

	err := q.QueryRowContext(ctx, `
		INSERT INTO users (username, email, password_hash, full_name, is_active, is_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, u.Username, u.Email, u.PasswordHash, u.FullName, u.IsActive, u.IsVerified, now, now).Scan(&u.ID)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return newValidationError("username", "username or email is already registered")
		}
		return storage.Wrap("create user", err)
	}

	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

func (s *SQLUserStore) RecordFailedAttempt(ctx context.Context, id int64, attempts int, lockoutUntil *time.Time) error {
	var until sql.NullTime
	if lockoutUntil != nil {
		until = sql.NullTime{Time: lockoutUntil.UTC(), Valid: true}
	}
	return s.update(ctx, "record failed attempt", `
		UPDATE users SET failed_attempts = $1, lockout_until = $2, updated_at = $3 WHERE id = $4
	`, attempts, until, s.now().UTC(), id)
}

func (s *SQLUserStore) RecordLogin(ctx context.Context, id int64, at time.Time) error {
	return s.update(ctx, "record login", `
		UPDATE users SET failed_attempts = 0, lockout_until = NULL, last_login_at = $1, updated_at = $2 WHERE id = $3
	`, at.UTC(), s.now().UTC(), id)
}

func (s *SQLUserStore) Unlock(ctx context.Context, id int64) error {
	return s.update(ctx, "unlock user", `
		UPDATE users SET failed_attempts = 0, lockout_until = NULL, updated_at = $1 WHERE id = $2
	`, s.now().UTC(), id)
}

func (s *SQLUserStore) SetActive(ctx context.Context, id int64, active bool) error {
	return s.update(ctx, "set user active", `
		UPDATE users SET is_active = $1, updated_at = $2 WHERE id = $3
	`, active, s.now().UTC(), id)
}

func (s *SQLUserStore) update(ctx context.Context, op, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storage.Wrap(op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return storage.Wrap(op, err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *SQLUserStore) List(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, storage.Wrap("list users", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, storage.Wrap("list users", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap("list users", err)
	}
	return users, nil
}

func (s *SQLUserStore) ClearExpiredLockouts(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET failed_attempts = 0, lockout_until = NULL, updated_at = $1
		WHERE lockout_until IS NOT NULL AND lockout_until <= $2
	`, now.UTC(), now.UTC())
	if err != nil {
		return 0, storage.Wrap("clear expired lockouts", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, storage.Wrap("clear expired lockouts", err)
	}
	return n, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
