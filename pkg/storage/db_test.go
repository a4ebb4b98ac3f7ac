package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return New(sqlDB, DialectPostgres), mock
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		db, mock := newMockDB(t)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE roles SET name = \$1 WHERE id = \$2`).
			WithArgs("editor", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := db.WithTx(ctx, func(ctx context.Context) error {
			assert.True(t, InTx(ctx))
			_, err := db.Conn(ctx).ExecContext(ctx, `UPDATE roles SET name = $1 WHERE id = $2`, "editor", 1)
			return err
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db, mock := newMockDB(t)
		boom := errors.New("boom")

		mock.ExpectBegin()
		mock.ExpectRollback()

		err := db.WithTx(ctx, func(ctx context.Context) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nested calls join the outer transaction", func(t *testing.T) {
		db, mock := newMockDB(t)

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM roles`).WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		err := db.WithTx(ctx, func(ctx context.Context) error {
			return db.WithTx(ctx, func(ctx context.Context) error {
				_, err := db.Conn(ctx).ExecContext(ctx, `DELETE FROM roles`)
				return err
			})
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

		called := false
		err := db.WithTx(ctx, func(ctx context.Context) error {
			called = true
			return nil
		})
		require.Error(t, err)
		assert.False(t, called)
		assert.Contains(t, err.Error(), "failed to begin transaction")
	})
}

func TestConnOutsideTransaction(t *testing.T) {
	db, _ := newMockDB(t)
	assert.Equal(t, db.SQL(), db.Conn(context.Background()))
	assert.False(t, InTx(context.Background()))
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate(), "DSN is required")

	cfg.DSN = "postgres://localhost/cmsroles"
	assert.NoError(t, cfg.Validate())

	cfg.Driver = "mysql"
	assert.Error(t, cfg.Validate())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, IsUniqueViolation(nil))
	assert.False(t, IsUniqueViolation(errors.New("other")))
	assert.True(t, IsUniqueViolation(ErrUniqueViolation))
}

func TestAfterCommit(t *testing.T) {
	ctx := context.Background()

	t.Run("runs after commit", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectCommit()

		var calls []string
		err := db.WithTx(ctx, func(ctx context.Context) error {
			AfterCommit(ctx, func() { calls = append(calls, "outer") })
			return db.WithTx(ctx, func(ctx context.Context) error {
				AfterCommit(ctx, func() { calls = append(calls, "nested") })
				assert.Empty(t, calls)
				return nil
			})
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"outer", "nested"}, calls)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("skipped on rollback", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		called := false
		err := db.WithTx(ctx, func(ctx context.Context) error {
			AfterCommit(ctx, func() { called = true })
			return errors.New("boom")
		})
		require.Error(t, err)
		assert.False(t, called)
	})

	t.Run("runs immediately outside a transaction", func(t *testing.T) {
		called := false
		AfterCommit(ctx, func() { called = true })
		assert.True(t, called)
	})
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"cms.db", "cms.db?_foreign_keys=on"},
		{"file:cms.db?cache=shared", "file:cms.db?cache=shared&_foreign_keys=on"},
		{"file::memory:?_foreign_keys=on", "file::memory:?_foreign_keys=on"},
		{"cms.db?_fk=1", "cms.db?_fk=1"},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			assert.Equal(t, tt.want, sqliteDSN(tt.dsn))
		})
	}
}

func TestOpenSQLite_EnforcesForeignKeys(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "cms.db")

	db, err := Open(Config{Driver: DialectSQLite, DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(ctx, db, nil))

	conn := db.SQL()
	res, err := conn.ExecContext(ctx, `INSERT INTO sites (domain, name) VALUES ('foo', 'foo')`)
	require.NoError(t, err)
	siteID, err := res.LastInsertId()
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `INSERT INTO global_page_permissions (site_id, can_change) VALUES ($1, TRUE)`, siteID)
	require.NoError(t, err)

	_, err = conn.ExecContext(ctx, `DELETE FROM sites WHERE id = $1`, siteID)
	require.NoError(t, err)

	var grants int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM global_page_permissions`).Scan(&grants))
	assert.Zero(t, grants, "grants of a deleted site must cascade")
}

func TestOpenSQLite_RejectsDisabledForeignKeys(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "cms.db") + "?_foreign_keys=off"

	_, err := Open(Config{Driver: DialectSQLite, DSN: dsn})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "foreign keys are disabled")
}
