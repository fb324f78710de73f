package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/platinummonkey/collegeadmin/pkg/observability"
)

// Supported driver names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Dialect captures the few SQL differences between the supported drivers.
type Dialect struct {
	Name string
	// IDColumn is the column definition of a surrogate primary key.
	IDColumn string
	// RowLock is appended to a SELECT to lock the rows it reads until the
	// transaction ends. sqlite locks the whole database on write and has none.
	RowLock string
}

// DialectFor returns the dialect of a driver name.
func DialectFor(driver string) Dialect {
	if driver == DriverSQLite {
		return Dialect{Name: DriverSQLite, IDColumn: "INTEGER PRIMARY KEY AUTOINCREMENT"}
	}
	return Dialect{Name: DriverPostgres, IDColumn: "BIGSERIAL PRIMARY KEY", RowLock: " FOR NO KEY UPDATE"}
}

func (d Dialect) render(ddl string) string {
	return strings.ReplaceAll(ddl, "{{id}}", d.IDColumn)
}

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns every schema migration in version order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id {{id}},
					username VARCHAR(100) NOT NULL UNIQUE,
					email VARCHAR(255) NOT NULL UNIQUE,
					password_hash VARCHAR(255) NOT NULL,
					full_name VARCHAR(255) NOT NULL DEFAULT '',
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					is_verified BOOLEAN NOT NULL DEFAULT FALSE,
					failed_attempts INTEGER NOT NULL DEFAULT 0,
					lockout_until TIMESTAMP NULL,
					last_login_at TIMESTAMP NULL,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
				CREATE INDEX IF NOT EXISTS idx_users_lockout_until ON users(lockout_until);
			`,
		},
		{
			Version:     2,
			Description: "Create roles and permissions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id {{id}},
					name VARCHAR(100) NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					is_system BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS permissions (
					id {{id}},
					name VARCHAR(100) NOT NULL UNIQUE,
					module VARCHAR(100) NOT NULL DEFAULT '',
					description TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
		{
			Version:     3,
			Description: "Create user_roles and role_permissions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_roles (
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE RESTRICT,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (user_id, role_id)
				);
				CREATE INDEX IF NOT EXISTS idx_user_roles_role_id ON user_roles(role_id);

				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE RESTRICT,
					PRIMARY KEY (role_id, permission_id)
				);
				CREATE INDEX IF NOT EXISTS idx_role_permissions_permission_id ON role_permissions(permission_id);
			`,
		},
		{
			Version:     4,
			Description: "Create password_resets table",
			SQL: `
				CREATE TABLE IF NOT EXISTS password_resets (
					id {{id}},
					user_id BIGINT NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
					token_hash VARCHAR(64) NOT NULL UNIQUE,
					expires_at TIMESTAMP NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
				CREATE INDEX IF NOT EXISTS idx_password_resets_expires_at ON password_resets(expires_at);
			`,
		},
		{
			Version:     5,
			Description: "Create menu_items and menu_item_permissions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS menu_items (
					id {{id}},
					parent_id BIGINT NULL REFERENCES menu_items(id) ON DELETE CASCADE,
					title VARCHAR(100) NOT NULL,
					route VARCHAR(255) NOT NULL DEFAULT '',
					icon VARCHAR(100) NOT NULL DEFAULT '',
					display_order INTEGER NOT NULL DEFAULT 0,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					target VARCHAR(20) NOT NULL DEFAULT '_self'
				);
				CREATE INDEX IF NOT EXISTS idx_menu_items_parent_order ON menu_items(parent_id, display_order);

				CREATE TABLE IF NOT EXISTS menu_item_permissions (
					menu_item_id BIGINT NOT NULL REFERENCES menu_items(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE RESTRICT,
					PRIMARY KEY (menu_item_id, permission_id)
				);
				CREATE INDEX IF NOT EXISTS idx_menu_item_permissions_permission_id ON menu_item_permissions(permission_id);
			`,
		},
		{
			Version:     6,
			Description: "Create audit_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id {{id}},
					event_id VARCHAR(36) NOT NULL UNIQUE,
					event_type VARCHAR(64) NOT NULL,
					status VARCHAR(16) NOT NULL,
					user_id BIGINT NULL,
					username VARCHAR(100) NOT NULL DEFAULT '',
					ip_address VARCHAR(64) NOT NULL DEFAULT '',
					user_agent VARCHAR(255) NOT NULL DEFAULT '',
					request_id VARCHAR(64) NOT NULL DEFAULT '',
					message TEXT NOT NULL DEFAULT '',
					metadata TEXT NOT NULL DEFAULT '{}',
					created_at TIMESTAMP NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_audit_events_user_id ON audit_events(user_id);
				CREATE INDEX IF NOT EXISTS idx_audit_events_type_created ON audit_events(event_type, created_at);
			`,
		},
	}
}

// Migrate applies pending migrations, one transaction per migration.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}
		logger.WithField("version", migration.Version).Infof("Running migration: %s", migration.Description)
		if err := apply(ctx, db, dialect, migration); err != nil {
			return err
		}
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func apply(ctx context.Context, db *sql.DB, dialect Dialect, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, dialect.render(migration.SQL)); err != nil {
		return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
		migration.Version, migration.Description,
	); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}
	return nil
}
