package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Querier is the subset of *sql.DB and *sql.Tx used by the stores
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// txState is the transaction carried by a context and the hooks to run once it commits
type txState struct {
	tx          *sql.Tx
	afterCommit []func()
}

func txFrom(ctx context.Context) *txState {
	state, _ := ctx.Value(txKey{}).(*txState)
	return state
}

// DB is a database handle that carries transactions through the context
type DB struct {
	db      *sql.DB
	dialect Dialect
}

// Open opens and pings a database described by cfg
func Open(cfg Config) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if cfg.Driver == DialectSQLite {
		dsn = sqliteDSN(dsn)
	}

	sqlDB, err := sql.Open(string(cfg.Driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if cfg.Driver == DialectSQLite && strings.Contains(cfg.DSN, ":memory:") {
		// every new connection to an in-memory database gets its own empty schema
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(max(cfg.MaxIdleConns, 1))
	if cfg.Driver == DialectPostgres {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// derived grants and pages are cleaned up by ON DELETE CASCADE
	if cfg.Driver == DialectSQLite {
		var enabled int
		if err := sqlDB.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&enabled); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to check sqlite foreign keys: %w", err)
		}
		if enabled != 1 {
			sqlDB.Close()
			return nil, fmt.Errorf("sqlite foreign keys are disabled by the DSN, remove _foreign_keys=off")
		}
	}

	return &DB{db: sqlDB, dialect: cfg.Driver}, nil
}

// sqliteDSN turns on foreign key enforcement for every connection unless the
// DSN already says how to handle it
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys=") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on"
}

// New wraps an already opened *sql.DB
func New(db *sql.DB, dialect Dialect) *DB {
	return &DB{db: db, dialect: dialect}
}

// SQL returns the underlying *sql.DB
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Dialect returns the SQL dialect of the database
func (d *DB) Dialect() Dialect {
	return d.dialect
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// Conn returns the transaction carried by ctx, or the database itself
func (d *DB) Conn(ctx context.Context) Querier {
	if state := txFrom(ctx); state != nil {
		return state.tx
	}
	return d.db
}

// InTx reports whether ctx carries a transaction
func InTx(ctx context.Context) bool {
	return txFrom(ctx) != nil
}

// AfterCommit runs fn once the transaction carried by ctx commits, or right
// away when ctx carries none. Hooks of a rolled back transaction never run.
func AfterCommit(ctx context.Context, fn func()) {
	if state := txFrom(ctx); state != nil {
		state.afterCommit = append(state.afterCommit, fn)
		return
	}
	fn()
}

// WithTx runs fn inside a transaction. If ctx already carries one, fn joins it
// and the outermost caller decides whether to commit.
func (d *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	state := &txState{tx: tx}
	if err := fn(context.WithValue(ctx, txKey{}, state)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	for _, hook := range state.afterCommit {
		hook()
	}
	return nil
}
