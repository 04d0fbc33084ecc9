package mcptools

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlhelper/sqlhelper/agent/pkg/pipeline"
	"github.com/sqlhelper/sqlhelper/pkg/querier"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRunner struct {
	got    pipeline.TurnConfig
	result *pipeline.TurnResult
	err    error
}

func (f *fakeRunner) RunTurn(_ context.Context, _ string, tc pipeline.TurnConfig, _ pipeline.ProgressCallback) (*pipeline.TurnResult, error) {
	f.got = tc
	return f.result, f.err
}

// connect registers tools on a fresh server and returns a connected client
// session.
func connect(t *testing.T, register ...func(*mcp.Server) error) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	server := mcp.NewServer(&mcp.Implementation{Name: "test", Version: "v0"}, nil)
	for _, r := range register {
		require.NoError(t, r(server))
	}
	ct, st := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, st, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func decode[T any](t *testing.T, res *mcp.CallToolResult) T {
	t.Helper()
	b, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func TestAskTool(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{result: &pipeline.TurnResult{
		Answer:          "42 orders",
		Status:          pipeline.StatusAnswered,
		SQL:             "SELECT COUNT(*) FROM orders;",
		FixAttemptsUsed: 1,
	}}
	tool, err := NewAskTool(AskToolConfig{Logger: testLogger(), Runner: runner})
	require.NoError(t, err)
	cs := connect(t, tool.Register)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "ask",
		Arguments: map[string]any{"question": "how many orders?", "max_fix_attempts": 0},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)

	out := decode[AskOutput](t, res)
	assert.Equal(t, "42 orders", out.Answer)
	assert.Equal(t, "answered", out.Status)
	assert.Equal(t, 1, out.FixAttempts)
	assert.Equal(t, 0, runner.got.MaxFixAttempts)
	assert.Equal(t, pipeline.DefaultContextCount, runner.got.ContextCount)
}

func TestAskTool_Failures(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{err: errors.New("invalid turn config")}
	tool, err := NewAskTool(AskToolConfig{Logger: testLogger(), Runner: runner})
	require.NoError(t, err)
	cs := connect(t, tool.Register)

	for _, args := range []map[string]any{
		{"question": "   "},
		{"question": "q"},
	} {
		res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: "ask", Arguments: args})
		if err == nil {
			assert.True(t, res.IsError, "%v", args)
		}
	}
}

func TestNewAskTool_Validate(t *testing.T) {
	t.Parallel()

	_, err := NewAskTool(AskToolConfig{Runner: &fakeRunner{}})
	require.ErrorContains(t, err, "logger is required")
	_, err = NewAskTool(AskToolConfig{Logger: testLogger()})
	require.ErrorContains(t, err, "runner is required")
}

func newDuckQuerier(t *testing.T) *querier.Querier {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE orders (id INTEGER, total DOUBLE)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO orders VALUES (1, 9.5), (2, 20)`)
	require.NoError(t, err)

	q, err := querier.New(querier.Config{Logger: testLogger(), DB: db, Dialect: querier.DialectDuckDB})
	require.NoError(t, err)
	return q
}

func TestQueryTool(t *testing.T) {
	t.Parallel()

	tool, err := NewQueryTool(QueryToolConfig{Logger: testLogger(), Querier: newDuckQuerier(t), Dialect: querier.DialectDuckDB})
	require.NoError(t, err)
	cs := connect(t, tool.Register)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "query",
		Arguments: map[string]any{"sql": "SELECT id, total FROM orders ORDER BY id"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)

	out := decode[QueryOutput](t, res)
	assert.Equal(t, []string{"id", "total"}, out.Columns)
	assert.Equal(t, 2, out.Count)
	assert.EqualValues(t, 20, out.Rows[1]["total"])
}

func TestQueryTool_RejectsWrites(t *testing.T) {
	t.Parallel()

	tool, err := NewQueryTool(QueryToolConfig{Logger: testLogger(), Querier: newDuckQuerier(t)})
	require.NoError(t, err)

	for _, stmt := range []string{
		"DELETE FROM orders",
		"WITH d AS (DELETE FROM orders RETURNING *) SELECT * FROM d",
		"SELECT * INTO backup_orders FROM orders",
	} {
		_, err = tool.handleQuery(context.Background(), QueryInput{SQL: stmt})
		require.ErrorContains(t, err, "only SELECT", stmt)
	}

	resp, err := tool.cfg.Querier.QueryReadOnly(context.Background(), "SELECT COUNT(*) AS n FROM orders")
	require.NoError(t, err)
	assert.EqualValues(t, 2, resp.Rows[0]["n"])
}

// A write that reaches the engine is rolled back.
func TestQueryTool_EngineDiscardsWrites(t *testing.T) {
	t.Parallel()

	q := newDuckQuerier(t)
	resp, err := q.QueryReadOnly(context.Background(), "DELETE FROM orders RETURNING id")
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Count)

	after, err := q.Query(context.Background(), "SELECT COUNT(*) AS n FROM orders")
	require.NoError(t, err)
	assert.EqualValues(t, 2, after.Rows[0]["n"])
}

func TestIsReadOnly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sql  string
		want bool
	}{
		{"SELECT 1", true},
		{"  select * from t;  ", true},
		{"WITH x AS (SELECT 1) SELECT * FROM x", true},
		{"EXPLAIN SELECT 1", true},
		{"SHOW TABLES", true},
		{"DROP TABLE t", false},
		{"SELECT 1; DROP TABLE t", false},
		{"WITH d AS (DELETE FROM orders RETURNING *) SELECT * FROM d", false},
		{"SELECT * INTO backup_orders FROM orders", false},
		{"select id into outfile '/tmp/x' from t", false},
		{"SELECT updated_at, created_by FROM t", true},
		{"", false},
		{"   ;", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isReadOnly(tt.sql), tt.sql)
	}
}
