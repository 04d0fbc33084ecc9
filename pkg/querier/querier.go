package querier

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/sqlhelper/sqlhelper/agent/pkg/pipeline"
)

type Querier struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Querier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate querier config: %w", err)
	}
	return &Querier{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

type QueryResponse struct {
	Columns   []string       `json:"columns"`
	Rows      []pipeline.Row `json:"rows"`
	Count     int            `json:"count"`
	Truncated bool           `json:"truncated,omitempty"`
}

// Execute runs sql and returns its rows. It satisfies pipeline.Executor.
func (q *Querier) Execute(ctx context.Context, sql string) ([]pipeline.Row, error) {
	resp, err := q.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

// Query runs sql on a dedicated connection that is released before
// returning, whatever the outcome.
func (q *Querier) Query(ctx context.Context, sql string) (QueryResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, q.cfg.QueryTimeout)
	defer cancel()

	conn, err := q.cfg.DB.Conn(ctx)
	if err != nil {
		return QueryResponse{}, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	start := time.Now()
	rows, err := conn.QueryContext(ctx, sql)
	if err != nil {
		return QueryResponse{}, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	resp, err := scanRows(rows, q.cfg.MaxRows)
	if err != nil {
		return QueryResponse{}, err
	}
	q.log.Debug("querier: query executed", "rows", resp.Count, "truncated", resp.Truncated, "duration", time.Since(start))
	return resp, nil
}

// QueryReadOnly runs query so that the engine cannot persist a write. MySQL and
// PostgreSQL get a READ ONLY transaction, DuckDB a transaction that is always
// rolled back, and ClickHouse the readonly=2 setting since it has no
// transactions.
func (q *Querier) QueryReadOnly(ctx context.Context, query string) (QueryResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, q.cfg.QueryTimeout)
	defer cancel()

	conn, err := q.cfg.DB.Conn(ctx)
	if err != nil {
		return QueryResponse{}, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	if q.cfg.Dialect == DialectClickHouse {
		ctx = clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{"readonly": 2}))
		rows, err := conn.QueryContext(ctx, query)
		if err != nil {
			return QueryResponse{}, fmt.Errorf("failed to execute query: %w", err)
		}
		defer rows.Close()
		return scanRows(rows, q.cfg.MaxRows)
	}

	tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: q.cfg.Dialect != DialectDuckDB})
	if err != nil {
		return QueryResponse{}, fmt.Errorf("failed to begin read-only transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return QueryResponse{}, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()
	return scanRows(rows, q.cfg.MaxRows)
}

func scanRows(rows *sql.Rows, maxRows int) (QueryResponse, error) {
	columns, err := rows.Columns()
	if err != nil {
		return QueryResponse{}, fmt.Errorf("failed to get columns: %w", err)
	}

	resultRows := []pipeline.Row{}
	truncated := false
	for rows.Next() {
		if len(resultRows) >= maxRows {
			truncated = true
			break
		}
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return QueryResponse{}, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(pipeline.Row, len(columns))
		for i, col := range columns {
			switch v := values[i].(type) {
			case nil:
				row[col] = nil
			case []byte:
				row[col] = string(v)
			default:
				row[col] = v
			}
		}
		resultRows = append(resultRows, row)
	}

	if err := rows.Err(); err != nil {
		return QueryResponse{}, fmt.Errorf("error iterating rows: %w", err)
	}

	return QueryResponse{
		Columns:   columns,
		Rows:      resultRows,
		Count:     len(resultRows),
		Truncated: truncated,
	}, nil
}
