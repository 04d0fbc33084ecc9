package mcptools

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sqlhelper/sqlhelper/pkg/querier"
)

type QueryInput struct {
	SQL string `json:"sql" jsonschema:"a single read-only SQL statement"`
}

type QueryOutput struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	Count     int              `json:"count"`
	Truncated bool             `json:"truncated,omitempty"`
}

// Querier runs one statement without letting the engine persist writes.
// *querier.Querier satisfies it.
type Querier interface {
	QueryReadOnly(ctx context.Context, sql string) (querier.QueryResponse, error)
}

type QueryToolConfig struct {
	Logger  *slog.Logger
	Querier Querier
	Dialect querier.Dialect
}

func (cfg *QueryToolConfig) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.Querier == nil {
		return fmt.Errorf("querier is required")
	}
	return nil
}

type QueryTool struct {
	log *slog.Logger
	cfg QueryToolConfig
}

func NewQueryTool(cfg QueryToolConfig) (*QueryTool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate query tool config: %w", err)
	}
	return &QueryTool{log: cfg.Logger, cfg: cfg}, nil
}

func (t *QueryTool) Register(server *mcp.Server) error {
	in, err := jsonschema.For[QueryInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create query input schema: %w", err)
	}
	out, err := jsonschema.For[QueryOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create query output schema: %w", err)
	}

	desc := "Execute a read-only SQL query against the connected database and return its rows."
	if t.cfg.Dialect != "" {
		desc += fmt.Sprintf(" The database speaks %s.", t.cfg.Dialect)
	}
	mcp.AddTool(server, &mcp.Tool{
		Name:         "query",
		Description:  desc,
		InputSchema:  in,
		OutputSchema: out,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, req QueryInput) (*mcp.CallToolResult, QueryOutput, error) {
		res, err := t.handleQuery(ctx, req)
		if err != nil {
			return nil, QueryOutput{}, err
		}
		return nil, res, nil
	})
	return nil
}

func (t *QueryTool) handleQuery(ctx context.Context, req QueryInput) (QueryOutput, error) {
	if !isReadOnly(req.SQL) {
		return QueryOutput{}, fmt.Errorf("only SELECT, WITH, SHOW, DESCRIBE and EXPLAIN statements are allowed")
	}
	t.log.Debug("mcptools: running query tool")

	resp, err := t.cfg.Querier.QueryReadOnly(ctx, req.SQL)
	if err != nil {
		return QueryOutput{}, err
	}
	rows := make([]map[string]any, len(resp.Rows))
	for i, r := range resp.Rows {
		rows[i] = r
	}
	return QueryOutput{
		Columns:   resp.Columns,
		Rows:      rows,
		Count:     resp.Count,
		Truncated: resp.Truncated,
	}, nil
}

var writeKeyword = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|MERGE|UPSERT|DROP|CREATE|ALTER|TRUNCATE|GRANT|REVOKE|COPY|ATTACH|DETACH|INTO)\b`)

// isReadOnly accepts a single statement whose leading keyword cannot write
// and that names no writing clause, such as a data-modifying CTE or SELECT
// INTO. The engine still runs it read-only; this only rejects early.
func isReadOnly(sql string) bool {
	s := strings.TrimSpace(sql)
	s = strings.TrimSuffix(s, ";")
	if s == "" || strings.Contains(s, ";") {
		return false
	}
	if writeKeyword.MatchString(s) {
		return false
	}
	fields := strings.Fields(s)
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH", "SHOW", "DESCRIBE", "DESC", "EXPLAIN":
		return true
	}
	return false
}
