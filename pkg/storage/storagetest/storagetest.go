// Package storagetest provides a migrated in-memory database for package tests.
package storagetest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/collegeadmin/pkg/storage"
)

// NewDB returns an in-memory sqlite database with the full schema applied.
// It is closed when the test ends.
func NewDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := storage.Open(context.Background(), storage.Config{
		Driver: storage.DriverSQLite,
		URL:    "file::memory:",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, storage.Migrate(context.Background(), db, storage.DialectFor(storage.DriverSQLite), nil))
	return db
}
