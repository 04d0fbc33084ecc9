package stages

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/sqlhelper/sqlhelper/agent/pkg/llm"
	"github.com/sqlhelper/sqlhelper/agent/pkg/pipeline"
)

var (
	fencedSQL  = regexp.MustCompile("(?s)```sql\\s*(.*?)\\s*```")
	bareSelect = regexp.MustCompile(`(?is)\bSELECT\b.*?;`)
)

// QuerySynthesizer asks the LLM for one SQL statement over the selected
// context.
type QuerySynthesizer struct {
	log *slog.Logger
	cfg Config
}

func NewQuerySynthesizer(cfg Config) (*QuerySynthesizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate synthesizer config: %w", err)
	}
	return &QuerySynthesizer{log: cfg.Logger, cfg: cfg}, nil
}

func (s *QuerySynthesizer) Synthesize(ctx context.Context, req pipeline.SynthesizeRequest) (string, error) {
	contextText := strings.Join(req.Context, "\n\n")

	var system string
	if req.Mode == pipeline.ModeKeep {
		system = fill(s.cfg.Prompts.Generate,
			"DIALECT", s.cfg.Dialect,
			"CONTEXT", contextText,
		)
	} else {
		system = fill(s.cfg.Prompts.Regenerate,
			"DIALECT", s.cfg.Dialect,
			"CONTEXT", contextText,
			"PRIOR_QUERY", req.PriorQuery,
			"PRIOR_ERROR", failureDetail(req.PriorFailure),
		)
	}

	out, err := s.cfg.LLM.Complete(ctx, system, "user_question: "+req.Question, llm.WithTemperature(0))
	if err != nil {
		return "", fmt.Errorf("query generation failed: %w", err)
	}

	sql, err := ExtractSQL(out)
	if err != nil {
		s.log.Warn("stages: no SQL in generation", "mode", req.Mode, "outputLen", len(out))
		return "", err
	}
	return sql, nil
}

// ExtractSQL pulls a single statement out of model output: a ```sql fenced
// block first, then a bare SELECT ... ; statement.
func ExtractSQL(out string) (string, error) {
	if m := fencedSQL.FindStringSubmatch(out); m != nil {
		if sql := strings.TrimSpace(m[1]); sql != "" {
			return sql, nil
		}
	}
	if m := bareSelect.FindString(out); m != "" {
		return strings.TrimSpace(m), nil
	}
	return "", fmt.Errorf("query generation: %w", pipeline.ErrUnparseableOutput)
}
