// Package handlers serves the chat and session endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"

	"github.com/sqlhelper/sqlhelper/agent/pkg/pipeline"
	"github.com/sqlhelper/sqlhelper/api/metrics"
	"github.com/sqlhelper/sqlhelper/pkg/sessions"
)

const DefaultMaxConcurrentTurns = 8

// Runner runs one turn. *pipeline.Orchestrator satisfies it.
type Runner interface {
	RunWithProgress(ctx context.Context, question string, tc pipeline.TurnConfig, onProgress pipeline.ProgressCallback) (*pipeline.TurnResult, error)
}

// SessionStore persists chat history. *sessions.Store satisfies it.
type SessionStore interface {
	Append(ctx context.Context, id uuid.UUID, msgs ...sessions.Message) error
	Get(ctx context.Context, id uuid.UUID) (*sessions.Session, error)
	List(ctx context.Context, limit, offset int) ([]sessions.SessionListItem, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type Config struct {
	Logger *slog.Logger
	Runner Runner
	// Sessions is optional; without it session ids are ignored and the
	// session endpoints answer 404.
	Sessions SessionStore
	// Defaults is the turn config used when a request does not override it.
	Defaults pipeline.TurnConfig
	// MaxConcurrentTurns bounds the turns running at once; further requests
	// queue.
	MaxConcurrentTurns int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.Runner == nil {
		return fmt.Errorf("runner is required")
	}
	if cfg.Defaults == (pipeline.TurnConfig{}) {
		cfg.Defaults = pipeline.DefaultTurnConfig()
	}
	if err := cfg.Defaults.Validate(); err != nil {
		return fmt.Errorf("invalid default turn config: %w", err)
	}
	if cfg.MaxConcurrentTurns <= 0 {
		cfg.MaxConcurrentTurns = DefaultMaxConcurrentTurns
	}
	return nil
}

type Handlers struct {
	log   *slog.Logger
	cfg   Config
	turns pond.ResultPool[*pipeline.TurnResult]
}

func New(cfg Config) (*Handlers, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate handlers config: %w", err)
	}
	return &Handlers{
		log:   cfg.Logger,
		cfg:   cfg,
		turns: pond.NewResultPool[*pipeline.TurnResult](cfg.MaxConcurrentTurns),
	}, nil
}

// Close waits for running turns and stops the worker pool.
func (h *Handlers) Close() {
	h.turns.StopAndWait()
}

// RunTurn runs a turn on the worker pool and waits for it.
func (h *Handlers) RunTurn(ctx context.Context, question string, tc pipeline.TurnConfig, onProgress pipeline.ProgressCallback) (*pipeline.TurnResult, error) {
	metrics.TurnsQueued.Inc()
	queued := true
	dequeue := func() {
		if queued {
			queued = false
			metrics.TurnsQueued.Dec()
		}
	}
	task := h.turns.SubmitErr(func() (*pipeline.TurnResult, error) {
		dequeue()
		return h.cfg.Runner.RunWithProgress(ctx, question, tc, onProgress)
	})
	res, err := task.Wait()
	dequeue()
	return res, err
}

// internalError logs err and returns a message safe to show to clients.
func (h *Handlers) internalError(msg string, err error) string {
	h.log.Error("handlers: "+msg, "error", err)
	return msg
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
