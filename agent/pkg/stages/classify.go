package stages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sqlhelper/sqlhelper/agent/pkg/llm"
	"github.com/sqlhelper/sqlhelper/agent/pkg/pipeline"
)

// IntentClassifier asks the LLM whether a question needs the database.
type IntentClassifier struct {
	log *slog.Logger
	cfg Config
}

func NewIntentClassifier(cfg Config) (*IntentClassifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate classifier config: %w", err)
	}
	return &IntentClassifier{log: cfg.Logger, cfg: cfg}, nil
}

func (c *IntentClassifier) Classify(ctx context.Context, question string) (pipeline.Intent, error) {
	out, err := c.cfg.LLM.Complete(ctx, c.cfg.Prompts.Classify, "user_question: "+question, llm.WithCacheControl(), llm.WithTemperature(0))
	if err != nil {
		return pipeline.IntentCasual, fmt.Errorf("intent classification failed: %w", err)
	}
	intent, err := parseIntent(out)
	if err != nil {
		c.log.Warn("stages: unexpected classifier output", "output", out)
		return pipeline.IntentCasual, err
	}
	return intent, nil
}

// parseIntent accepts "0" or "1", tolerating surrounding whitespace, quotes
// and code fences.
func parseIntent(out string) (pipeline.Intent, error) {
	s := strings.Trim(strings.TrimSpace(out), "`\"' \n\t")
	switch s {
	case "1":
		return pipeline.IntentBusiness, nil
	case "0":
		return pipeline.IntentCasual, nil
	}
	return pipeline.IntentCasual, fmt.Errorf("%w: %q", pipeline.ErrMalformedIntent, out)
}
