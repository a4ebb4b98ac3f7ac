//go:build integration

package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/cmsroles/pkg/storage"
)

// NewPostgres returns a migrated postgres database. TEST_POSTGRES_PRIMARY is
// used when set; otherwise a throwaway container is started and removed at
// test cleanup. The test is skipped when neither is available.
func NewPostgres(t *testing.T) *storage.DB {
	t.Helper()
	ctx := context.Background()

	dsn := postgresDSN(t)
	db, err := storage.Open(storage.Config{
		Driver:       storage.DialectPostgres,
		DSN:          dsn,
		MaxOpenConns: 4,
		MaxIdleConns: 2,
		Timeout:      30 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, storage.Migrate(ctx, db, nil))
	return db
}

func postgresDSN(t *testing.T) string {
	if dsn := lookupPostgres(); dsn != "" {
		return dsn
	}

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	provider.Close()

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("cmsroles_test"),
		postgres.WithUsername("cmsroles"),
		postgres.WithPassword("cmsroles_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		// the test context may already be cancelled
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}
