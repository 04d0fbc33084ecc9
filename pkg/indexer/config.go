package indexer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sqlhelper/sqlhelper/agent/pkg/llm"
	"github.com/sqlhelper/sqlhelper/pkg/querier"
)

const (
	DefaultSampleRows  = 3
	DefaultConcurrency = 4
	DefaultBatchSize   = 32
)

// Source runs read-only statements against the database being indexed.
// *querier.Querier satisfies it.
type Source interface {
	Query(ctx context.Context, sql string) (querier.QueryResponse, error)
}

// Store persists table snippets keyed by table name.
type Store interface {
	// Hashes returns the content hash of every stored table.
	Hashes(ctx context.Context) (map[string]string, error)
	Upsert(ctx context.Context, docs []Document) error
	Delete(ctx context.Context, tables []string) error
}

type Config struct {
	Logger   *slog.Logger
	Source   Source
	Embedder llm.Embedder
	Store    Store
	Dialect  querier.Dialect

	// Schema restricts indexing to one schema; empty means the connection's
	// current schema.
	Schema string
	// Tables restricts indexing to the named tables.
	Tables []string

	SampleRows  int
	Concurrency int
	BatchSize   int
	// Force re-embeds tables whose content hash is unchanged.
	Force bool
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.Source == nil {
		return fmt.Errorf("source is required")
	}
	if cfg.Embedder == nil {
		return fmt.Errorf("embedder is required")
	}
	if cfg.Store == nil {
		return fmt.Errorf("store is required")
	}
	if cfg.Dialect == "" {
		return fmt.Errorf("dialect is required")
	}
	if cfg.SampleRows < 0 {
		return fmt.Errorf("sample rows must not be negative")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return nil
}
