package rbac

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/platinummonkey/collegeadmin/pkg/session"
	"github.com/platinummonkey/collegeadmin/pkg/storage"
)

// Store handles RBAC data persistence
type Store struct {
	db        *sql.DB
	adminRole string
	rowLock   string
	now       func() time.Time
}

// NewStore creates a new RBAC store. adminRole names the system role whose
// holders bypass permission checks.
func NewStore(db *sql.DB, adminRole string) *Store {
	if adminRole == "" {
		adminRole = DefaultAdminRole
	}
	return &Store{
		db:        db,
		adminRole: adminRole,
		rowLock:   storage.DialectFor(storage.DriverOf(db)).RowLock,
		now:       time.Now,
	}
}

// AdminRole returns the administrator role name.
func (s *Store) AdminRole() string { return s.adminRole }

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Wrap(op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storage.Wrap(op, err)
	}
	return nil
}

func count(ctx context.Context, q querier, op, query string, args ...interface{}) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, storage.Wrap(op, err)
	}
	return n, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// Roles

const roleColumns = `r.id, r.name, r.description, r.is_system, r.created_at, r.updated_at,
	(SELECT COUNT(*) FROM user_roles ur WHERE ur.role_id = r.id)`

func scanRole(row interface{ Scan(...interface{}) error }) (*Role, error) {
	var r Role
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.IsSystem, &r.CreatedAt, &r.UpdatedAt, &r.UserCount); err != nil {
		return nil, err
	}
	r.Permissions = []string{}
	return &r, nil
}

// ListRoles returns every role with its permission names and holder count.
func (s *Store) ListRoles(ctx context.Context) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+roleColumns+` FROM roles r ORDER BY r.name`)
	if err != nil {
		return nil, storage.Wrap("list roles", err)
	}
	defer rows.Close()

	var roles []*Role
	byID := make(map[int64]*Role)
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, storage.Wrap("list roles", err)
		}
		roles = append(roles, r)
		byID[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap("list roles", err)
	}
	rows.Close()

	grants, err := s.db.QueryContext(ctx, `
		SELECT rp.role_id, p.name
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		ORDER BY p.name
	`)
	if err != nil {
		return nil, storage.Wrap("list role permissions", err)
	}
	defer grants.Close()

	for grants.Next() {
		var roleID int64
		var name string
		if err := grants.Scan(&roleID, &name); err != nil {
			return nil, storage.Wrap("list role permissions", err)
		}
		if r, ok := byID[roleID]; ok {
			r.Permissions = append(r.Permissions, name)
		}
	}
	if err := grants.Err(); err != nil {
		return nil, storage.Wrap("list role permissions", err)
	}
	return roles, nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, id int64) (*Role, error) {
	return s.getRole(ctx, s.db, id)
}

func (s *Store) getRole(ctx context.Context, q querier, id int64) (*Role, error) {
	r, err := scanRole(q.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, storage.Wrap("get role", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT p.name
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.name
	`, id)
	if err != nil {
		return nil, storage.Wrap("get role permissions", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, storage.Wrap("get role permissions", err)
		}
		r.Permissions = append(r.Permissions, name)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap("get role permissions", err)
	}
	return r, nil
}

func validateRole(in RoleInput) (RoleInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if in.Name == "" {
		return in, invalid("role name is required")
	}
	if len(in.Name) > 100 {
		return in, invalid("role name must be at most 100 characters")
	}
	in.PermissionIDs = uniqueIDs(in.PermissionIDs)
	return in, nil
}

// CreateRole creates a non-system role with the given grants.
func (s *Store) CreateRole(ctx context.Context, in RoleInput) (*Role, error) {
	in, err := validateRole(in)
	if err != nil {
		return nil, err
	}

	var role *Role
	err = s.withTx(ctx, "create role", func(tx *sql.Tx) error {
		now := s.now().UTC()
		var id int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO roles (name, description, is_system, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, in.Name, in.Description, false, now, now).Scan(&id)
		if err != nil {
			if storage.IsUniqueViolation(err) {
				return ErrRoleExists
			}
			return storage.Wrap("create role", err)
		}
		if err := replaceRolePermissions(ctx, tx, id, in.PermissionIDs); err != nil {
			return err
		}
		role, err = s.getRole(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return role, nil
}

// UpdateRole renames a role and replaces its grants. System roles are immutable.
func (s *Store) UpdateRole(ctx context.Context, id int64, in RoleInput) (*Role, error) {
	in, err := validateRole(in)
	if err != nil {
		return nil, err
	}

	var role *Role
	err = s.withTx(ctx, "update role", func(tx *sql.Tx) error {
		if err := requireMutableRole(ctx, tx, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE roles SET name = $1, description = $2, updated_at = $3 WHERE id = $4
		`, in.Name, in.Description, s.now().UTC(), id)
		if err != nil {
			if storage.IsUniqueViolation(err) {
				return ErrRoleExists
			}
			return storage.Wrap("update role", err)
		}
		if err := replaceRolePermissions(ctx, tx, id, in.PermissionIDs); err != nil {
			return err
		}
		role, err = s.getRole(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return role, nil
}

// DeleteRole deletes a role that is neither a system role nor held by any user.
func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	return s.withTx(ctx, "delete role", func(tx *sql.Tx) error {
		if err := requireMutableRole(ctx, tx, id); err != nil {
			return err
		}
		holders, err := count(ctx, tx, "count role holders", `SELECT COUNT(*) FROM user_roles WHERE role_id = $1`, id)
		if err != nil {
			return err
		}
		if holders > 0 {
			return ErrRoleInUse
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id); err != nil {
			return storage.Wrap("delete role", err)
		}
		return nil
	})
}

func requireMutableRole(ctx context.Context, q querier, id int64) error {
	var isSystem bool
	err := q.QueryRowContext(ctx, `SELECT is_system FROM roles WHERE id = $1`, id).Scan(&isSystem)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRoleNotFound
	}
	if err != nil {
		return storage.Wrap("get role", err)
	}
	if isSystem {
		return ErrSystemRole
	}
	return nil
}

// replaceRolePermissions deletes every grant of roleID and inserts ids.
func replaceRolePermissions(ctx context.Context, q querier, roleID int64, ids []int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return storage.Wrap("clear role permissions", err)
	}
	for _, pid := range ids {
		_, err := q.ExecContext(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`, roleID, pid)
		if err != nil {
			if storage.IsForeignKeyViolation(err) {
				return ErrPermissionNotFound
			}
			return storage.Wrap("grant permission", err)
		}
	}
	return nil
}

// Permissions

// ListPermissions returns every permission with the number of roles granting it.
func (s *Store) ListPermissions(ctx context.Context) ([]*Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.module, p.description, p.created_at,
			(SELECT COUNT(*) FROM role_permissions rp WHERE rp.permission_id = p.id)
		FROM permissions p
		ORDER BY p.module, p.name
	`)
	if err != nil {
		return nil, storage.Wrap("list permissions", err)
	}
	defer rows.Close()

	var perms []*Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Module, &p.Description, &p.CreatedAt, &p.RoleCount); err != nil {
			return nil, storage.Wrap("list permissions", err)
		}
		perms = append(perms, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap("list permissions", err)
	}
	return perms, nil
}

// CreatePermission inserts p and fills its id.
func (s *Store) CreatePermission(ctx context.Context, p *Permission) error {
	p.Name = strings.TrimSpace(p.Name)
	p.Module = strings.TrimSpace(p.Module)
	if p.Name == "" {
		return invalid("permission name is required")
	}
	if len(p.Name) > 100 {
		return invalid("permission name must be at most 100 characters")
	}

	now := s.now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO permissions (name, module, description, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, p.Name, p.Module, p.Description, now).Scan(&p.ID)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return ErrPermissionExists
		}
		return storage.Wrap("create permission", err)
	}
	p.CreatedAt = now
	return nil
}

// DeletePermission deletes a permission referenced by no role and no menu item.
func (s *Store) DeletePermission(ctx context.Context, id int64) error {
	return s.withTx(ctx, "delete permission", func(tx *sql.Tx) error {
		exists, err := count(ctx, tx, "get permission", `SELECT COUNT(*) FROM permissions WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if exists == 0 {
			return ErrPermissionNotFound
		}
		roles, err := count(ctx, tx, "count permission roles", `SELECT COUNT(*) FROM role_permissions WHERE permission_id = $1`, id)
		if err != nil {
			return err
		}
		if roles > 0 {
			return ErrPermissionInUse
		}
		menus, err := count(ctx, tx, "count permission menu items", `SELECT COUNT(*) FROM menu_item_permissions WHERE permission_id = $1`, id)
		if err != nil {
			return err
		}
		if menus > 0 {
			return ErrPermissionInMenu
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM permissions WHERE id = $1`, id); err != nil {
			return storage.Wrap("delete permission", err)
		}
		return nil
	})
}

// User role assignments

func requireUser(ctx context.Context, q querier, userID int64) error {
	n, err := count(ctx, q, "get user", `SELECT COUNT(*) FROM users WHERE id = $1`, userID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GetUserRoles returns the roles held by userID.
func (s *Store) GetUserRoles(ctx context.Context, userID int64) ([]*Role, error) {
	if err := requireUser(ctx, s.db, userID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+roleColumns+`
		FROM roles r
		JOIN user_roles ur2 ON ur2.role_id = r.id
		WHERE ur2.user_id = $1
		ORDER BY r.name
	`, userID)
	if err != nil {
		return nil, storage.Wrap("get user roles", err)
	}
	defer rows.Close()

	roles := []*Role{}
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, storage.Wrap("get user roles", err)
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap("get user roles", err)
	}
	return roles, nil
}

// SetUserRoles replaces the roles of userID. It refuses an empty set and a
// set that would leave no user holding the administrator role. On any error
// the previous assignment is unchanged.
func (s *Store) SetUserRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	roleIDs = uniqueIDs(roleIDs)
	if len(roleIDs) == 0 {
		return ErrNoRoles
	}

	return s.withTx(ctx, "set user roles", func(tx *sql.Tx) error {
		if err := requireUser(ctx, tx, userID); err != nil {
			return err
		}

		// Locking the admin role row serializes concurrent membership
		// changes, so two admins cannot demote each other at once.
		adminID, err := s.lockAdminRole(ctx, tx)
		if err != nil && !errors.Is(err, ErrRoleNotFound) {
			return err
		}
		if err == nil && !containsID(roleIDs, adminID) {
			holds, err := count(ctx, tx, "check admin role",
				`SELECT COUNT(*) FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, adminID)
			if err != nil {
				return err
			}
			if holds > 0 {
				others, err := count(ctx, tx, "count admins",
					`SELECT COUNT(*) FROM user_roles WHERE role_id = $1 AND user_id <> $2`, adminID, userID)
				if err != nil {
					return err
				}
				if others == 0 {
					return ErrLastAdmin
				}
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
			return storage.Wrap("clear user roles", err)
		}
		now := s.now().UTC()
		for _, roleID := range roleIDs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO user_roles (user_id, role_id, created_at) VALUES ($1, $2, $3)
			`, userID, roleID, now)
			if err != nil {
				if storage.IsForeignKeyViolation(err) {
					return ErrRoleNotFound
				}
				return storage.Wrap("assign role", err)
			}
		}
		return nil
	})
}

// AdminRoleID returns the id of the system administrator role.
func (s *Store) AdminRoleID(ctx context.Context) (int64, error) {
	return s.selectAdminRole(ctx, s.db, "")
}

func (s *Store) lockAdminRole(ctx context.Context, tx *sql.Tx) (int64, error) {
	return s.selectAdminRole(ctx, tx, s.rowLock)
}

func (s *Store) selectAdminRole(ctx context.Context, q querier, lock string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM roles WHERE name = $1 AND is_system = $2`+lock, s.adminRole, true).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrRoleNotFound
	}
	if err != nil {
		return 0, storage.Wrap("get admin role", err)
	}
	return id, nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// LoadGrants resolves the roles and permission names of userID. IsAdmin is
// true iff one of the roles is the system administrator role.
func (s *Store) LoadGrants(ctx context.Context, userID int64) (session.Grants, error) {
	grants := session.Grants{Roles: []string{}, Permissions: []string{}}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.name, r.is_system
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name
	`, userID)
	if err != nil {
		return grants, storage.Wrap("load user roles", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var isSystem bool
		if err := rows.Scan(&name, &isSystem); err != nil {
			return grants, storage.Wrap("load user roles", err)
		}
		grants.Roles = append(grants.Roles, name)
		if isSystem && name == s.adminRole {
			grants.IsAdmin = true
		}
	}
	if err := rows.Err(); err != nil {
		return grants, storage.Wrap("load user roles", err)
	}
	rows.Close()

	perms, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT p.name
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		JOIN user_roles ur ON ur.role_id = rp.role_id
		WHERE ur.user_id = $1
		ORDER BY p.name
	`, userID)
	if err != nil {
		return grants, storage.Wrap("load user permissions", err)
	}
	defer perms.Close()
	for perms.Next() {
		var name string
		if err := perms.Scan(&name); err != nil {
			return grants, storage.Wrap("load user permissions", err)
		}
		grants.Permissions = append(grants.Permissions, name)
	}
	if err := perms.Err(); err != nil {
		return grants, storage.Wrap("load user permissions", err)
	}
	return grants, nil
}
