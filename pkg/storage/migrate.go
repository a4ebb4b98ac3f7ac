package storage

import (
	"context"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// MigrationsTable is the goose version table name
const MigrationsTable = "cmsroles_migrations"

// MigrationLogger receives goose progress messages
type MigrationLogger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Migrate applies all pending migrations for the database dialect
func Migrate(ctx context.Context, db *DB, log MigrationLogger) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetTableName(MigrationsTable)
	if log != nil {
		goose.SetLogger(&gooseLogger{log: log})
	} else {
		goose.SetLogger(goose.NopLogger())
	}

	dir := "migrations/postgres"
	if db.Dialect() == DialectSQLite {
		dir = "migrations/sqlite"
	}

	if err := goose.SetDialect(string(db.Dialect())); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db.SQL(), dir); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// gooseLogger routes goose output through the application logger; Fatalf is
// downgraded to an error so a failed migration never exits the process.
type gooseLogger struct {
	log MigrationLogger
}

func (l *gooseLogger) Fatalf(format string, v ...interface{}) {
	l.log.Errorf(format, v...)
}

func (l *gooseLogger) Printf(format string, v ...interface{}) {
	l.log.Infof(format, v...)
}
