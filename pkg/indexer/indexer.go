// Package indexer renders database tables into schema snippets and stores
// them with their embeddings for retrieval.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v5"

	"github.com/sqlhelper/sqlhelper/pkg/querier"
)

const maxRetries = 5

type Summary struct {
	Tables  int `json:"tables"`
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
	Removed int `json:"removed"`
}

type Indexer struct {
	log  *slog.Logger
	cfg  Config
	pool pond.ResultPool[Table]

	newBackOff func() backoff.BackOff
}

func New(cfg Config) (*Indexer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate indexer config: %w", err)
	}
	return &Indexer{
		log:  cfg.Logger,
		cfg:  cfg,
		pool: pond.NewResultPool[Table](cfg.Concurrency),
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}, nil
}

func (ix *Indexer) Close() {
	ix.pool.StopAndWait()
}

// Run indexes every table of the configured schema. Tables whose rendered
// snippet hash matches the stored one are skipped unless Force is set.
func (ix *Indexer) Run(ctx context.Context) (Summary, error) {
	start := time.Now()

	tables, err := ix.loadTables(ctx)
	if err != nil {
		return Summary{}, err
	}
	tables, err = ix.sampleTables(ctx, tables)
	if err != nil {
		return Summary{}, err
	}

	existing, err := retry(ctx, ix, "load stored hashes", func() (map[string]string, error) {
		return ix.cfg.Store.Hashes(ctx)
	})
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Tables: len(tables)}
	var changed []Document
	seen := make(map[string]bool, len(tables))
	for _, t := range tables {
		seen[t.Name] = true
		doc := newDocument(t)
		if !ix.cfg.Force && existing[doc.Table] == doc.Hash {
			summary.Skipped++
			continue
		}
		changed = append(changed, doc)
	}

	for batch := range slices.Chunk(changed, ix.cfg.BatchSize) {
		if err := ix.write(ctx, batch); err != nil {
			return summary, err
		}
		summary.Indexed += len(batch)
	}

	// Dropped tables are pruned only on full runs; a filtered run does not
	// know about the tables it skipped.
	if len(ix.cfg.Tables) == 0 {
		var stale []string
		for name := range existing {
			if !seen[name] {
				stale = append(stale, name)
			}
		}
		if len(stale) > 0 {
			slices.Sort(stale)
			if _, err := retry(ctx, ix, "delete stale snippets", func() (struct{}, error) {
				return struct{}{}, ix.cfg.Store.Delete(ctx, stale)
			}); err != nil {
				return summary, err
			}
			summary.Removed = len(stale)
		}
	}

	ix.log.Info("indexer: run complete", "tables", summary.Tables, "indexed", summary.Indexed, "skipped", summary.Skipped, "removed", summary.Removed, "duration", time.Since(start))
	return summary, nil
}

func (ix *Indexer) write(ctx context.Context, docs []Document) error {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vecs, err := retry(ctx, ix, "embed snippets", func() ([][]float32, error) {
		return ix.cfg.Embedder.Embed(ctx, texts)
	})
	if err != nil {
		return err
	}
	if len(vecs) != len(docs) {
		return fmt.Errorf("expected %d embeddings, got %d", len(docs), len(vecs))
	}
	for i := range docs {
		docs[i].Vector = vecs[i]
	}
	_, err = retry(ctx, ix, "upsert snippets", func() (struct{}, error) {
		return struct{}{}, ix.cfg.Store.Upsert(ctx, docs)
	})
	return err
}

func retry[T any](ctx context.Context, ix *Indexer, what string, op func() (T, error)) (T, error) {
	attempt := 0
	v, err := backoff.Retry(ctx, func() (T, error) {
		if attempt > 0 {
			ix.log.Warn("indexer: retrying", "operation", what, "attempt", attempt)
		}
		attempt++
		return op()
	}, backoff.WithBackOff(ix.newBackOff()), backoff.WithMaxTries(maxRetries))
	if err != nil {
		var zero T
		return zero, fmt.Errorf("failed to %s: %w", what, err)
	}
	return v, nil
}

func (ix *Indexer) loadTables(ctx context.Context) ([]Table, error) {
	resp, err := ix.cfg.Source.Query(ctx, columnsQuery(ix.cfg.Dialect, ix.cfg.Schema))
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var only map[string]bool
	if len(ix.cfg.Tables) > 0 {
		only = make(map[string]bool, len(ix.cfg.Tables))
		for _, t := range ix.cfg.Tables {
			only[t] = true
		}
	}

	var tables []Table
	for _, row := range resp.Rows {
		name := str(row["table_name"])
		if name == "" || (only != nil && !only[name]) {
			continue
		}
		if len(tables) == 0 || tables[len(tables)-1].Name != name {
			tables = append(tables, Table{Name: name})
		}
		col := Column{
			Name:     str(row["column_name"]),
			Type:     str(row["column_type"]),
			Nullable: isTrue(row["is_nullable"]),
			Key:      str(row["column_key"]),
			Extra:    str(row["extra"]),
		}
		if v := row["column_default"]; v != nil {
			d := str(v)
			col.Default = &d
		}
		t := &tables[len(tables)-1]
		t.Columns = append(t.Columns, col)
	}
	ix.log.Debug("indexer: loaded tables", "count", len(tables))
	return tables, nil
}

func (ix *Indexer) sampleTables(ctx context.Context, tables []Table) ([]Table, error) {
	if ix.cfg.SampleRows == 0 || len(tables) == 0 {
		return tables, nil
	}
	group := ix.pool.NewGroupContext(ctx)
	for _, t := range tables {
		group.SubmitErr(func() (Table, error) {
			resp, err := ix.cfg.Source.Query(ctx, samplesQuery(ix.cfg.Dialect, ix.cfg.Schema, t.Name, ix.cfg.SampleRows))
			if err != nil {
				// A table we cannot read is still worth describing.
				ix.log.Warn("indexer: failed to sample table", "table", t.Name, "error", err)
				return t, nil
			}
			t.Samples = resp.Rows
			return t, nil
		})
	}
	results, err := group.Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to sample tables: %w", err)
	}
	return results, nil
}

func columnsQuery(d querier.Dialect, schema string) string {
	typ, key, extra := "data_type", "''", "''"
	if d == querier.DialectMySQL {
		typ, key, extra = "column_type", "column_key", "extra"
	}
	schemaExpr := d.CurrentSchemaExpr()
	if schema != "" {
		schemaExpr = d.QuoteLiteral(schema)
	}
	return fmt.Sprintf(`SELECT table_name AS table_name, column_name AS column_name, %s AS column_type,
	is_nullable AS is_nullable, %s AS column_key, column_default AS column_default, %s AS extra
FROM information_schema.columns
WHERE table_schema = %s
ORDER BY table_name, ordinal_position`, typ, key, extra, schemaExpr)
}

func samplesQuery(d querier.Dialect, schema, table string, n int) string {
	name := d.QuoteIdent(table)
	if schema != "" {
		name = d.QuoteIdent(schema) + "." + name
	}
	return fmt.Sprintf("SELECT * FROM %s LIMIT %d", name, n)
}

func str(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	}
	return fmt.Sprint(v)
}

func isTrue(v any) bool {
	switch strings.ToLower(str(v)) {
	case "yes", "1", "true":
		return true
	}
	return false
}
