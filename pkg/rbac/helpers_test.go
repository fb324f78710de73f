package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/collegeadmin/pkg/storage/storagetest"
)

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db := storagetest.NewDB(t)
	store := NewStore(db, DefaultAdminRole)
	require.NoError(t, store.Bootstrap(context.Background()))
	return store, db
}

func insertUser(t *testing.T, db *sql.DB, username string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(`
		INSERT INTO users (username, email, password_hash) VALUES ($1, $2, $3) RETURNING id
	`, username, fmt.Sprintf("%s@college.test", username), "x").Scan(&id)
	require.NoError(t, err)
	return id
}

// permissionID looks up a permission seeded by Bootstrap.
func permissionID(t *testing.T, store *Store, name string) int64 {
	t.Helper()
	perms, err := store.ListPermissions(context.Background())
	require.NoError(t, err)
	for _, p := range perms {
		if p.Name == name {
			return p.ID
		}
	}
	t.Fatalf("permission %q not found", name)
	return 0
}

func adminRoleID(t *testing.T, store *Store) int64 {
	t.Helper()
	id, err := store.AdminRoleID(context.Background())
	require.NoError(t, err)
	return id
}

func userRoleNames(t *testing.T, store *Store, userID int64) []string {
	t.Helper()
	roles, err := store.GetUserRoles(context.Background(), userID)
	require.NoError(t, err)
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return names
}
