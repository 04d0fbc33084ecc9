// Package stages implements the LLM-backed collaborators of the turn
// orchestrator: intent classification, context selection, query synthesis
// and answer generation.
package stages

import (
	"fmt"
	"log/slog"

	"github.com/sqlhelper/sqlhelper/agent/pkg/llm"
)

// DefaultDialect is the SQL dialect named in generation prompts.
const DefaultDialect = "MySQL"

type Config struct {
	Logger  *slog.Logger
	LLM     llm.Client
	Prompts *Prompts
	Dialect string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.LLM == nil {
		return fmt.Errorf("llm client is required")
	}
	if cfg.Prompts == nil {
		return fmt.Errorf("prompts are required")
	}
	if cfg.Dialect == "" {
		cfg.Dialect = DefaultDialect
	}
	return nil
}
