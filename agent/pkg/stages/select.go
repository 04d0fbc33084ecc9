package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/sqlhelper/sqlhelper/agent/pkg/llm"
	"github.com/sqlhelper/sqlhelper/agent/pkg/pipeline"
)

type contextList struct {
	IDs []*int `json:"ids" jsonschema:"indices of the contexts needed to answer the question"`
}

// ContextSelector asks the LLM which candidate snippets are relevant, using a
// structured {"ids": [...]} response.
type ContextSelector struct {
	log    *slog.Logger
	cfg    Config
	schema *jsonschema.Schema
}

func NewContextSelector(cfg Config) (*ContextSelector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate selector config: %w", err)
	}
	schema, err := llm.SchemaFor[contextList]()
	if err != nil {
		return nil, err
	}
	return &ContextSelector{log: cfg.Logger, cfg: cfg, schema: schema}, nil
}

func (s *ContextSelector) Select(ctx context.Context, req pipeline.SelectRequest) ([]int, error) {
	if len(req.Candidates) == 0 {
		return []int{}, nil
	}

	system := s.cfg.Prompts.Select
	if req.Mode == pipeline.ModeReselect {
		system += fill(s.cfg.Prompts.Reselect,
			"PRIOR_SELECTION", formatIndices(req.PriorSelection),
			"PRIOR_QUERY", req.PriorQuery,
			"PRIOR_ERROR", failureDetail(req.PriorFailure),
		)
	}

	user := "user_question:\n" + req.Question + "\n\ncontext:\n" + numberedContext(req.Candidates)
	out, err := s.cfg.LLM.Complete(ctx, system, user, llm.WithJSONSchema("context_list", s.schema), llm.WithTemperature(0))
	if err != nil {
		return nil, fmt.Errorf("context selection failed: %w", err)
	}

	var parsed contextList
	if err := json.Unmarshal([]byte(extractJSONObject(out)), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse context selection %q: %w", out, err)
	}
	ids := pipeline.SanitizeNullableIndices(parsed.IDs, len(req.Candidates))
	s.log.Debug("stages: selected contexts", "mode", req.Mode, "raw", len(parsed.IDs), "kept", ids)
	return ids, nil
}

func numberedContext(candidates []string) string {
	var sb strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&sb, "%d.\n%s\n\n", i, c)
	}
	return sb.String()
}

func formatIndices(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func failureDetail(f *pipeline.Failure) string {
	if f == nil {
		return ""
	}
	return f.Error()
}

// extractJSONObject returns the outermost {...} span of s, or s itself.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end < start {
		return strings.TrimSpace(s)
	}
	return s[start : end+1]
}
