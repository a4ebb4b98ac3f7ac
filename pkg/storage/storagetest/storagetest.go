// Package storagetest provides migrated in-memory databases for tests.
package storagetest

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/cmsroles/pkg/storage"
)

// NewSQLite returns a migrated in-memory SQLite database closed at test cleanup
func NewSQLite(t testing.TB) *storage.DB {
	t.Helper()

	db, err := storage.Open(storage.Config{
		Driver: storage.DialectSQLite,
		DSN:    "file::memory:?_foreign_keys=on",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, storage.Migrate(context.Background(), db, nil))
	return db
}

// SkipIfNoPostgres skips the test unless TEST_POSTGRES_PRIMARY is set and returns its value
func SkipIfNoPostgres(t testing.TB) string {
	t.Helper()

	dsn := lookupPostgres()
	if dsn == "" {
		t.Skip("Skipping test: TEST_POSTGRES_PRIMARY environment variable not set (database not available)")
	}
	return dsn
}

func lookupPostgres() string {
	return os.Getenv("TEST_POSTGRES_PRIMARY")
}
