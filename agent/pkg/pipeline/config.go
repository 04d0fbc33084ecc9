package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultStepBudget     = 50
	DefaultContextCount   = 10
	DefaultMaxFixAttempts = 2
	DefaultSampleInfo     = 5
)

// TurnConfig is supplied by the caller for each turn.
type TurnConfig struct {
	// StepBudget bounds the number of state transitions in a turn.
	StepBudget int `json:"step_budget"`
	// ContextCount is the number of candidate snippets to retrieve.
	ContextCount int `json:"context_count"`
	// MaxFixAttempts is the number of corrective passes allowed.
	MaxFixAttempts int `json:"max_fix_attempts"`
	// FixAttemptsStart resumes the fix counter from a previous value.
	FixAttemptsStart int `json:"fix_attempts_start"`
	// SampleInfo is the number of result rows handed to the business
	// responder; 0 hands over all of them.
	SampleInfo int `json:"sample_info"`
}

// DefaultTurnConfig returns the defaults used by the CLI and the HTTP API.
func DefaultTurnConfig() TurnConfig {
	return TurnConfig{
		StepBudget:     DefaultStepBudget,
		ContextCount:   DefaultContextCount,
		MaxFixAttempts: DefaultMaxFixAttempts,
		SampleInfo:     DefaultSampleInfo,
	}
}

func (c TurnConfig) Validate() error {
	if c.StepBudget <= 0 {
		return fmt.Errorf("step budget must be positive")
	}
	if c.ContextCount <= 0 {
		return fmt.Errorf("context count must be positive")
	}
	if c.MaxFixAttempts < 0 {
		return fmt.Errorf("max fix attempts must not be negative")
	}
	if c.FixAttemptsStart < 0 {
		return fmt.Errorf("fix attempts start must not be negative")
	}
	if c.SampleInfo < 0 {
		return fmt.Errorf("sample info must not be negative")
	}
	return nil
}

// Config holds the collaborators of an Orchestrator.
type Config struct {
	Logger      *slog.Logger
	Classifier  Classifier
	Retriever   Retriever
	Selector    Selector
	Synthesizer Synthesizer
	Executor    Executor
	Responder   Responder

	// Policy defaults to DefaultPolicy when left zero.
	Policy RemediationPolicy
	// Clock defaults to the real clock.
	Clock clockwork.Clock
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.Classifier == nil {
		return fmt.Errorf("classifier is required")
	}
	if cfg.Retriever == nil {
		return fmt.Errorf("retriever is required")
	}
	if cfg.Selector == nil {
		return fmt.Errorf("selector is required")
	}
	if cfg.Synthesizer == nil {
		return fmt.Errorf("synthesizer is required")
	}
	if cfg.Executor == nil {
		return fmt.Errorf("executor is required")
	}
	if cfg.Responder == nil {
		return fmt.Errorf("responder is required")
	}
	if cfg.Policy.isZero() {
		cfg.Policy = DefaultPolicy()
	}
	if err := cfg.Policy.Validate(); err != nil {
		return fmt.Errorf("invalid remediation policy: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}
