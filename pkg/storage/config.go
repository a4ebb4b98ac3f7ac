package storage

import (
	"fmt"
	"time"
)

// Dialect identifies the SQL driver backing a DB
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// Config holds database connection configuration
type Config struct {
	Driver          Dialect       `env:"DRIVER" envDefault:"postgres"`
	DSN             string        `env:"DSN"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"2"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"30m"`
	Timeout         time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// DefaultConfig returns a configuration with sensible pool defaults
func DefaultConfig() Config {
	return Config{
		Driver:          DialectPostgres,
		MaxOpenConns:    20,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		Timeout:         10 * time.Second,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	switch c.Driver {
	case DialectPostgres, DialectSQLite:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}
	return nil
}
