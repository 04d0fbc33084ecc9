package querier

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultMaxRows      = 1000
	DefaultQueryTimeout = 30 * time.Second
)

// DB hands out dedicated connections. *sql.DB satisfies it.
type DB interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

type Config struct {
	Logger *slog.Logger
	DB     DB
	// Dialect selects how QueryReadOnly keeps the engine from writing.
	Dialect Dialect

	// MaxRows caps the rows scanned per query; extra rows are dropped.
	MaxRows int
	// QueryTimeout bounds a single statement.
	QueryTimeout time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.DB == nil {
		return fmt.Errorf("database is required")
	}
	if cfg.MaxRows < 0 {
		return fmt.Errorf("max rows must not be negative")
	}
	if cfg.MaxRows == 0 {
		cfg.MaxRows = DefaultMaxRows
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	return nil
}
