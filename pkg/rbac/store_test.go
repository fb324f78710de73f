package rbac

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrap(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Bootstrap(ctx), "bootstrap is idempotent")

	perms, err := store.ListPermissions(ctx)
	require.NoError(t, err)
	assert.Len(t, perms, len(CorePermissions))

	roles, err := store.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, DefaultAdminRole, roles[0].Name)
	assert.True(t, roles[0].IsSystem)
}

func TestCreateRole(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	audit := permissionID(t, store, PermissionAuditView)
	dash := permissionID(t, store, PermissionDashboardView)

	role, err := store.CreateRole(ctx, RoleInput{
		Name:          "  Registrar ",
		Description:   "Records office",
		PermissionIDs: []int64{dash, audit, dash},
	})
	require.NoError(t, err)
	assert.Equal(t, "Registrar", role.Name)
	assert.False(t, role.IsSystem)
	assert.Equal(t, []string{PermissionAuditView, PermissionDashboardView}, role.Permissions)
	assert.Zero(t, role.UserCount)

	t.Run("duplicate name", func(t *testing.T) {
		_, err := store.CreateRole(ctx, RoleInput{Name: "Registrar"})
		assert.ErrorIs(t, err, ErrRoleExists)
	})

	t.Run("empty name", func(t *testing.T) {
		_, err := store.CreateRole(ctx, RoleInput{Name: "  "})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("unknown permission rolls back", func(t *testing.T) {
		_, err := store.CreateRole(ctx, RoleInput{Name: "Bursar", PermissionIDs: []int64{9999}})
		assert.ErrorIs(t, err, ErrPermissionNotFound)

		roles, err := store.ListRoles(ctx)
		require.NoError(t, err)
		for _, r := range roles {
			assert.NotEqual(t, "Bursar", r.Name)
		}
	})
}

func TestUpdateRole(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	role, err := store.CreateRole(ctx, RoleInput{
		Name:          "Faculty",
		PermissionIDs: []int64{permissionID(t, store, PermissionDashboardView)},
	})
	require.NoError(t, err)

	updated, err := store.UpdateRole(ctx, role.ID, RoleInput{
		Name:          "Faculty Staff",
		PermissionIDs: []int64{permissionID(t, store, PermissionAuditView)},
	})
	require.NoError(t, err)
	assert.Equal(t, "Faculty Staff", updated.Name)
	assert.Equal(t, []string{PermissionAuditView}, updated.Permissions)

	_, err = store.UpdateRole(ctx, adminRoleID(t, store), RoleInput{Name: "Root"})
	assert.ErrorIs(t, err, ErrSystemRole)

	_, err = store.UpdateRole(ctx, 9999, RoleInput{Name: "Ghost"})
	assert.ErrorIs(t, err, ErrRoleNotFound)
}

func TestDeleteRoleGuards(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	dash := permissionID(t, store, PermissionDashboardView)
	role, err := store.CreateRole(ctx, RoleInput{Name: "Faculty", PermissionIDs: []int64{dash}})
	require.NoError(t, err)

	bob := insertUser(t, db, "bob")
	require.NoError(t, store.SetUserRoles(ctx, bob, []int64{role.ID}))

	t.Run("role in use is unchanged", func(t *testing.T) {
		err := store.DeleteRole(ctx, role.ID)
		assert.ErrorIs(t, err, ErrRoleInUse)

		after, err := store.GetRole(ctx, role.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{PermissionDashboardView}, after.Permissions)
		assert.Equal(t, 1, after.UserCount)
		assert.Equal(t, []string{"Faculty"}, userRoleNames(t, store, bob))
	})

	t.Run("system role is unchanged", func(t *testing.T) {
		err := store.DeleteRole(ctx, adminRoleID(t, store))
		assert.ErrorIs(t, err, ErrSystemRole)

		_, err = store.GetRole(ctx, adminRoleID(t, store))
		assert.NoError(t, err)
	})

	t.Run("unused role is deleted", func(t *testing.T) {
		spare, err := store.CreateRole(ctx, RoleInput{Name: "Spare", PermissionIDs: []int64{dash}})
		require.NoError(t, err)

		require.NoError(t, store.DeleteRole(ctx, spare.ID))
		_, err = store.GetRole(ctx, spare.ID)
		assert.ErrorIs(t, err, ErrRoleNotFound)

		perm := permissionID(t, store, PermissionDashboardView)
		perms, err := store.ListPermissions(ctx)
		require.NoError(t, err)
		for _, p := range perms {
			if p.ID == perm {
				assert.Equal(t, 1, p.RoleCount, "only Faculty still grants it")
			}
		}
	})
}

func TestPermissions(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	p := &Permission{Name: "courses.edit", Module: "courses", Description: "Edit courses"}
	require.NoError(t, store.CreatePermission(ctx, p))
	assert.NotZero(t, p.ID)

	assert.ErrorIs(t, store.CreatePermission(ctx, &Permission{Name: "courses.edit"}), ErrPermissionExists)
	assert.ErrorIs(t, store.CreatePermission(ctx, &Permission{Name: ""}), ErrInvalidInput)

	t.Run("granted permission cannot be deleted", func(t *testing.T) {
		role, err := store.CreateRole(ctx, RoleInput{Name: "Dean", PermissionIDs: []int64{p.ID}})
		require.NoError(t, err)

		assert.ErrorIs(t, store.DeletePermission(ctx, p.ID), ErrPermissionInUse)

		_, err = store.UpdateRole(ctx, role.ID, RoleInput{Name: "Dean"})
		require.NoError(t, err)
	})

	t.Run("menu gate cannot be deleted", func(t *testing.T) {
		item, err := store.CreateMenuItem(ctx, MenuItemInput{Title: "Courses", PermissionIDs: []int64{p.ID}})
		require.NoError(t, err)

		assert.ErrorIs(t, store.DeletePermission(ctx, p.ID), ErrPermissionInMenu)

		require.NoError(t, store.DeleteMenuItem(ctx, item.ID))
	})

	require.NoError(t, store.DeletePermission(ctx, p.ID))
	assert.ErrorIs(t, store.DeletePermission(ctx, p.ID), ErrPermissionNotFound)
}

func TestSetUserRoles(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	admin := adminRoleID(t, store)
	faculty, err := store.CreateRole(ctx, RoleInput{Name: "Faculty"})
	require.NoError(t, err)

	root := insertUser(t, db, "root")
	require.NoError(t, store.SetUserRoles(ctx, root, []int64{admin, admin}))

	t.Run("sole admin keeps the role", func(t *testing.T) {
		err := store.SetUserRoles(ctx, root, []int64{faculty.ID})
		assert.ErrorIs(t, err, ErrLastAdmin)
		assert.Equal(t, []string{DefaultAdminRole}, userRoleNames(t, store, root))
	})

	t.Run("empty set is rejected", func(t *testing.T) {
		assert.ErrorIs(t, store.SetUserRoles(ctx, root, nil), ErrNoRoles)
		assert.Equal(t, []string{DefaultAdminRole}, userRoleNames(t, store, root))
	})

	t.Run("unknown role leaves no partial write", func(t *testing.T) {
		err := store.SetUserRoles(ctx, root, []int64{admin, 9999})
		assert.ErrorIs(t, err, ErrRoleNotFound)
		assert.Equal(t, []string{DefaultAdminRole}, userRoleNames(t, store, root))
	})

	t.Run("unknown user", func(t *testing.T) {
		assert.ErrorIs(t, store.SetUserRoles(ctx, 9999, []int64{faculty.ID}), ErrUserNotFound)
		_, err := store.GetUserRoles(ctx, 9999)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("admin may step down once another admin exists", func(t *testing.T) {
		second := insertUser(t, db, "second")
		require.NoError(t, store.SetUserRoles(ctx, second, []int64{admin, faculty.ID}))

		require.NoError(t, store.SetUserRoles(ctx, root, []int64{faculty.ID}))
		assert.Equal(t, []string{"Faculty"}, userRoleNames(t, store, root))
		assert.Equal(t, []string{DefaultAdminRole, "Faculty"}, userRoleNames(t, store, second))
	})
}

func TestLoadGrants(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	audit := permissionID(t, store, PermissionAuditView)
	dash := permissionID(t, store, PermissionDashboardView)
	clerk, err := store.CreateRole(ctx, RoleInput{Name: "Clerk", PermissionIDs: []int64{dash}})
	require.NoError(t, err)
	auditor, err := store.CreateRole(ctx, RoleInput{Name: "Auditor", PermissionIDs: []int64{audit, dash}})
	require.NoError(t, err)

	carol := insertUser(t, db, "carol")
	require.NoError(t, store.SetUserRoles(ctx, carol, []int64{clerk.ID, auditor.ID}))

	grants, err := store.LoadGrants(ctx, carol)
	require.NoError(t, err)
	assert.Equal(t, []string{"Auditor", "Clerk"}, grants.Roles)
	assert.Equal(t, []string{PermissionAuditView, PermissionDashboardView}, grants.Permissions)
	assert.False(t, grants.IsAdmin)

	root := insertUser(t, db, "root")
	require.NoError(t, store.SetUserRoles(ctx, root, []int64{adminRoleID(t, store)}))
	grants, err = store.LoadGrants(ctx, root)
	require.NoError(t, err)
	assert.True(t, grants.IsAdmin)
	assert.Empty(t, grants.Permissions)

	t.Run("a custom role named like the admin role is not admin", func(t *testing.T) {
		other := NewStore(db, "Clerk")
		grants, err := other.LoadGrants(ctx, carol)
		require.NoError(t, err)
		assert.False(t, grants.IsAdmin)
	})
}

func TestSetUserRoles_LocksAdminRoleOnPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db, DefaultAdminRole)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT id FROM roles WHERE name = \$1 AND is_system = \$2 FOR NO KEY UPDATE`).
		WithArgs(DefaultAdminRole, true).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM user_roles WHERE user_id = \$1 AND role_id = \$2`).
		WithArgs(int64(5), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM user_roles WHERE role_id = \$1 AND user_id <> \$2`).
		WithArgs(int64(1), int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectRollback()

	assert.ErrorIs(t, store.SetUserRoles(context.Background(), 5, []int64{2}), ErrLastAdmin)
	assert.NoError(t, mock.ExpectationsWereMet())
}
