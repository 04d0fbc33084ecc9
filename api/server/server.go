// Package server wires the chat API, session endpoints and MCP tools into
// one HTTP server.
package server

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sqlhelper/sqlhelper/api/handlers"
	"github.com/sqlhelper/sqlhelper/api/mcptools"
	"github.com/sqlhelper/sqlhelper/api/metrics"
	"github.com/sqlhelper/sqlhelper/pkg/querier"
)

type Server struct {
	cfg        Config
	handlers   *handlers.Handlers
	mcpServer  *mcp.Server
	httpServer *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate server config: %w", err)
	}

	h, err := handlers.New(handlers.Config{
		Logger:             cfg.Logger,
		Runner:             cfg.Runner,
		Sessions:           cfg.Sessions,
		Defaults:           cfg.TurnDefaults,
		MaxConcurrentTurns: cfg.MaxConcurrentTurns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create handlers: %w", err)
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "sqlhelper",
		Version: cfg.Version,
	}, nil)

	askTool, err := mcptools.NewAskTool(mcptools.AskToolConfig{
		Logger:   cfg.Logger,
		Runner:   h,
		Defaults: cfg.TurnDefaults,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ask tool: %w", err)
	}
	if err := askTool.Register(mcpServer); err != nil {
		return nil, fmt.Errorf("failed to register ask tool: %w", err)
	}

	if cfg.Querier != nil {
		queryTool, err := mcptools.NewQueryTool(mcptools.QueryToolConfig{
			Logger:  cfg.Logger,
			Querier: cfg.Querier,
			Dialect: querier.Dialect(cfg.Dialect),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create query tool: %w", err)
		}
		if err := queryTool.Register(mcpServer); err != nil {
			return nil, fmt.Errorf("failed to register query tool: %w", err)
		}
	}

	s := &Server{
		cfg:       cfg,
		handlers:  h,
		mcpServer: mcpServer,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s, nil
}

// Router returns the HTTP handler of the server.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if len(s.cfg.AllowedTokens) > 0 {
			r.Use(s.authMiddleware)
		}
		r.Post("/api/chat", s.handlers.Chat)
		r.Post("/api/chat/stream", s.handlers.ChatStream)
		r.Get("/api/sessions", s.handlers.ListSessions)
		r.Get("/api/sessions/{id}", s.handlers.GetSession)
		r.Delete("/api/sessions/{id}", s.handlers.DeleteSession)

		mcpHandler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
			return s.mcpServer
		}, &mcp.StreamableHTTPOptions{
			Stateless: true,
		})
		r.Handle("/mcp", mcpHandler)
	})
	return r
}

func (s *Server) Run(ctx context.Context) error {
	defer s.handlers.Close()

	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.cfg.Logger.Error("server: http server error", "error", err)
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.cfg.Logger.Info("server: listening", "listenAddr", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		s.cfg.Logger.Info("server: shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		return nil
	case err := <-serveErrCh:
		return err
	}
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unauthorized := func(msg string) {
			w.Header().Set("WWW-Authenticate", `Bearer`)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("unauthorized: " + msg + "\n"))
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			unauthorized("missing authorization header")
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			unauthorized("invalid authorization header format")
			return
		}
		token := strings.TrimSpace(parts[1])
		if token == "" {
			unauthorized("empty token")
			return
		}
		if !slices.Contains(s.cfg.AllowedTokens, token) {
			unauthorized("invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
