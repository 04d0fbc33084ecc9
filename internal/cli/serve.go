package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/sqlhelper/sqlhelper/agent/pkg/pipeline"
	"github.com/sqlhelper/sqlhelper/api/handlers"
	"github.com/sqlhelper/sqlhelper/api/metrics"
	"github.com/sqlhelper/sqlhelper/api/server"
	"github.com/sqlhelper/sqlhelper/pkg/sessions"
)

type ServeCmd struct{}

func NewServeCmd() *ServeCmd {
	return &ServeCmd{}
}

func (c *ServeCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat API and MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			listenAddr, err := cmd.Flags().GetString("listen-addr")
			if err != nil {
				return fmt.Errorf("failed to get listen-addr flag: %w", err)
			}
			metricsAddr, err := cmd.Flags().GetString("metrics-addr")
			if err != nil {
				return fmt.Errorf("failed to get metrics-addr flag: %w", err)
			}
			maxConcurrency, err := cmd.Flags().GetInt("max-concurrency")
			if err != nil {
				return fmt.Errorf("failed to get max-concurrency flag: %w", err)
			}
			enableQueryTool, err := cmd.Flags().GetBool("enable-query-tool")
			if err != nil {
				return fmt.Errorf("failed to get enable-query-tool flag: %w", err)
			}
			fileCfg, err := configFromFlags(cmd)
			if err != nil {
				return err
			}
			tc, err := turnConfigFromFlags(cmd, fileCfg.turnConfig())
			if err != nil {
				return err
			}
			policy, err := fileCfg.policy()
			if err != nil {
				return err
			}

			log := newLogger(verboseFlag(cmd))

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

			metricsServerErrCh := make(chan error, 1)
			if metricsAddr != "" {
				go func() {
					listener, err := net.Listen("tcp", metricsAddr)
					if err != nil {
						log.Error("failed to start prometheus metrics server listener", "error", err)
						metricsServerErrCh <- err
						return
					}
					log.Info("prometheus metrics server listening", "address", listener.Addr().String())
					mux := http.NewServeMux()
					mux.Handle("/metrics", promhttp.Handler())
					if err := http.Serve(listener, mux); err != nil {
						log.Error("failed to start prometheus metrics server", "error", err)
						metricsServerErrCh <- err
					}
				}()
			}

			st, err := newStack(ctx, log)
			if err != nil {
				return err
			}
			defer st.Close()

			orch, err := st.newOrchestrator(policy)
			if err != nil {
				return err
			}

			var store handlers.SessionStore
			if pgURL := os.Getenv("POSTGRES_URL"); pgURL != "" {
				pool, err := sessions.NewPool(ctx, log, pgURL)
				if err != nil {
					return err
				}
				defer pool.Close()
				s, err := sessions.New(sessions.Config{Logger: log, DB: pool})
				if err != nil {
					return err
				}
				if err := s.Migrate(ctx); err != nil {
					return fmt.Errorf("failed to run migrations: %w", err)
				}
				store = s
			} else {
				log.Info("cli: POSTGRES_URL not set, session history disabled")
			}

			cfg := server.Config{
				Version:            version,
				ListenAddr:         listenAddr,
				Logger:             log,
				Runner:             orch,
				Sessions:           store,
				Dialect:            string(st.dialect),
				TurnDefaults:       tc,
				MaxConcurrentTurns: maxConcurrency,
				AllowedTokens:      splitList(os.Getenv("API_TOKENS")),
				AllowedOrigins:     splitList(os.Getenv("CORS_ORIGINS")),
			}
			if enableQueryTool {
				cfg.Querier = st.querier
			}
			srv, err := server.New(cfg)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			serverErrCh := make(chan error, 1)
			go func() {
				serverErrCh <- srv.Run(ctx)
			}()

			select {
			case err := <-serverErrCh:
				return err
			case err := <-metricsServerErrCh:
				return err
			}
		},
	}

	defaults := pipeline.DefaultTurnConfig()
	cmd.Flags().String("listen-addr", server.DefaultListenAddr, "HTTP server listen address")
	cmd.Flags().String("metrics-addr", "", "Separate address for prometheus metrics (also served on /metrics)")
	cmd.Flags().Int("max-concurrency", handlers.DefaultMaxConcurrentTurns, "Maximum number of turns running at once")
	cmd.Flags().Bool("enable-query-tool", false, "Expose the read-only query MCP tool")
	cmd.Flags().Int("recursion-limit", defaults.StepBudget, "Default maximum number of state transitions per turn")
	cmd.Flags().Int("context-cnt", defaults.ContextCount, "Default number of schema snippets to retrieve")
	cmd.Flags().Int("max-query-fix", defaults.MaxFixAttempts, "Default maximum number of corrective passes")
	cmd.Flags().Int("query-fix-cnt", 0, "Default corrective passes already used")
	cmd.Flags().Int("sample-info", defaults.SampleInfo, "Default result rows handed to the answer writer (0 for all)")

	return cmd
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
