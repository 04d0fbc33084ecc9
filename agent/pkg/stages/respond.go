package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sqlhelper/sqlhelper/agent/pkg/llm"
	"github.com/sqlhelper/sqlhelper/agent/pkg/pipeline"
)

// Responder writes the user-facing answer of a turn.
type Responder struct {
	log *slog.Logger
	cfg Config
}

func NewResponder(cfg Config) (*Responder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate responder config: %w", err)
	}
	return &Responder{log: cfg.Logger, cfg: cfg}, nil
}

func (r *Responder) RespondCasual(ctx context.Context, question string) (string, error) {
	out, err := r.cfg.LLM.Complete(ctx, r.cfg.Prompts.Casual, question, llm.WithCacheControl())
	if err != nil {
		return "", fmt.Errorf("casual response failed: %w", err)
	}
	return out, nil
}

func (r *Responder) RespondBusiness(ctx context.Context, question, sql string, rows []pipeline.Row) (string, error) {
	result, err := formatRows(rows)
	if err != nil {
		return "", err
	}
	system := fill(r.cfg.Prompts.Respond, "SQL", sql, "RESULT", result)
	out, err := r.cfg.LLM.Complete(ctx, system, question)
	if err != nil {
		return "", fmt.Errorf("business response failed: %w", err)
	}
	return out, nil
}

func (r *Responder) RespondFailure(ctx context.Context, question string, failure *pipeline.Failure) (string, error) {
	kind, detail := "", ""
	if failure != nil {
		kind, detail = string(failure.Kind), failure.Detail
	}
	system := fill(r.cfg.Prompts.Failure, "FAILURE_KIND", kind, "FAILURE_DETAIL", detail)
	out, err := r.cfg.LLM.Complete(ctx, system, question, llm.WithCacheControl())
	if err != nil {
		return "", fmt.Errorf("failure response failed: %w", err)
	}
	return out, nil
}

// formatRows renders rows as a JSON array; map keys come out sorted, so the
// payload is stable for a given result.
func formatRows(rows []pipeline.Row) (string, error) {
	if len(rows) == 0 {
		return "(no rows)", nil
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("failed to format rows: %w", err)
	}
	return string(b), nil
}
