// Package mcptools exposes turns and read-only queries as MCP tools.
package mcptools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sqlhelper/sqlhelper/agent/pkg/pipeline"
)

// TurnRunner runs one turn. *handlers.Handlers satisfies it through its
// worker pool.
type TurnRunner interface {
	RunTurn(ctx context.Context, question string, tc pipeline.TurnConfig, onProgress pipeline.ProgressCallback) (*pipeline.TurnResult, error)
}

type AskInput struct {
	Question       string `json:"question" jsonschema:"natural-language question about the database"`
	MaxFixAttempts *int   `json:"max_fix_attempts,omitempty" jsonschema:"corrective passes allowed when a query fails or returns nothing"`
	ContextCount   *int   `json:"context_count,omitempty" jsonschema:"number of schema snippets to retrieve"`
}

type AskOutput struct {
	Answer      string `json:"answer"`
	Status      string `json:"status"`
	SQL         string `json:"sql,omitempty"`
	FixAttempts int    `json:"fix_attempts"`
	FailureKind string `json:"failure_kind,omitempty"`
}

type AskToolConfig struct {
	Logger   *slog.Logger
	Runner   TurnRunner
	Defaults pipeline.TurnConfig
}

func (cfg *AskToolConfig) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.Runner == nil {
		return fmt.Errorf("runner is required")
	}
	if cfg.Defaults == (pipeline.TurnConfig{}) {
		cfg.Defaults = pipeline.DefaultTurnConfig()
	}
	return nil
}

type AskTool struct {
	log *slog.Logger
	cfg AskToolConfig
}

func NewAskTool(cfg AskToolConfig) (*AskTool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate ask tool config: %w", err)
	}
	return &AskTool{log: cfg.Logger, cfg: cfg}, nil
}

func (t *AskTool) Register(server *mcp.Server) error {
	in, err := jsonschema.For[AskInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create ask input schema: %w", err)
	}
	out, err := jsonschema.For[AskOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create ask output schema: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name: "ask",
		Description: `
			Answer a question about the connected database in natural language.
			The question is turned into SQL over the indexed schema, executed, and the result is summarized.
			The generated SQL is returned alongside the answer.
		`,
		InputSchema:  in,
		OutputSchema: out,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, req AskInput) (*mcp.CallToolResult, AskOutput, error) {
		res, err := t.handleAsk(ctx, req)
		if err != nil {
			return nil, AskOutput{}, err
		}
		return nil, res, nil
	})
	return nil
}

func (t *AskTool) handleAsk(ctx context.Context, req AskInput) (AskOutput, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return AskOutput{}, fmt.Errorf("question is required")
	}
	tc := t.cfg.Defaults
	if req.MaxFixAttempts != nil {
		tc.MaxFixAttempts = *req.MaxFixAttempts
	}
	if req.ContextCount != nil {
		tc.ContextCount = *req.ContextCount
	}

	t.log.Debug("mcptools: running ask tool")
	result, err := t.cfg.Runner.RunTurn(ctx, question, tc, nil)
	if err != nil {
		return AskOutput{}, fmt.Errorf("failed to run turn: %w", err)
	}
	out := AskOutput{
		Answer:      result.Answer,
		Status:      string(result.Status),
		SQL:         result.SQL,
		FixAttempts: result.FixAttemptsUsed,
	}
	if result.Failure != nil {
		out.FailureKind = string(result.Failure.Kind)
	}
	return out, nil
}
