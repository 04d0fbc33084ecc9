package server

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/sqlhelper/sqlhelper/agent/pkg/pipeline"
	"github.com/sqlhelper/sqlhelper/api/handlers"
	"github.com/sqlhelper/sqlhelper/api/mcptools"
)

const (
	DefaultListenAddr        = "0.0.0.0:8080"
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultReadHeaderTimeout = 10 * time.Second
)

type Config struct {
	Version    string
	ListenAddr string
	Logger     *slog.Logger

	Runner   handlers.Runner
	Sessions handlers.SessionStore
	// Querier backs the MCP query tool; the tool is not registered without
	// one.
	Querier mcptools.Querier
	Dialect string

	TurnDefaults       pipeline.TurnConfig
	MaxConcurrentTurns int

	AllowedOrigins []string
	// AllowedTokens enables bearer authentication on /api and /mcp.
	AllowedTokens []string

	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.Runner == nil {
		return fmt.Errorf("runner is required")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost:5173"}
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	return nil
}
