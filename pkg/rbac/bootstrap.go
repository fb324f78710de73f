package rbac

import (
	"context"
	"database/sql"

	"github.com/platinummonkey/collegeadmin/pkg/storage"
)

// CorePermissions are the permissions the admin endpoints check.
var CorePermissions = []Permission{
	{Name: PermissionUsersManage, Module: "users", Description: "Manage user role assignments"},
	{Name: PermissionUsersUnlock, Module: "users", Description: "Unlock locked accounts"},
	{Name: PermissionRolesManage, Module: "roles", Description: "Create, edit, and delete roles"},
	{Name: PermissionPermissionsManage, Module: "permissions", Description: "Create and delete permissions"},
	{Name: PermissionMenusManage, Module: "menus", Description: "Manage the navigation menu"},
	{Name: PermissionAuditView, Module: "audit", Description: "View the audit log"},
	{Name: PermissionDashboardView, Module: "dashboard", Description: "View the dashboard"},
}

// Bootstrap ensures the system administrator role and the core permissions
// exist. It is safe to run on every start.
func (s *Store) Bootstrap(ctx context.Context) error {
	return s.withTx(ctx, "bootstrap rbac", func(tx *sql.Tx) error {
		now := s.now().UTC()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO roles (name, description, is_system, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (name) DO UPDATE SET is_system = EXCLUDED.is_system
		`, s.adminRole, "Full access to the admin panel", true, now, now)
		if err != nil {
			return storage.Wrap("ensure admin role", err)
		}

		for _, p := range CorePermissions {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO permissions (name, module, description, created_at)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (name) DO NOTHING
			`, p.Name, p.Module, p.Description, now)
			if err != nil {
				return storage.Wrap("ensure permission", err)
			}
		}
		return nil
	})
}
