package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sqlhelper/sqlhelper/pkg/indexer"
	"github.com/sqlhelper/sqlhelper/pkg/vectorstore"
)

type IndexCmd struct{}

func NewIndexCmd() *IndexCmd {
	return &IndexCmd{}
}

func (c *IndexCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Embed the database schema into the vector store",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := cmd.Flags().GetString("schema")
			if err != nil {
				return fmt.Errorf("failed to get schema flag: %w", err)
			}
			tables, err := cmd.Flags().GetStringSlice("tables")
			if err != nil {
				return fmt.Errorf("failed to get tables flag: %w", err)
			}
			sampleRows, err := cmd.Flags().GetInt("sample-rows")
			if err != nil {
				return fmt.Errorf("failed to get sample-rows flag: %w", err)
			}
			concurrency, err := cmd.Flags().GetInt("concurrency")
			if err != nil {
				return fmt.Errorf("failed to get concurrency flag: %w", err)
			}
			force, err := cmd.Flags().GetBool("force")
			if err != nil {
				return fmt.Errorf("failed to get force flag: %w", err)
			}

			log := newLogger(verboseFlag(cmd))

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			st, err := newStack(ctx, log)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := vectorstore.EnsureSchema(ctx, log, st.weaviate, st.class); err != nil {
				return err
			}

			ix, err := indexer.New(indexer.Config{
				Logger:      log,
				Source:      st.querier,
				Embedder:    st.embedder,
				Store:       indexer.NewWeaviateStore(log, st.weaviate, st.class),
				Dialect:     st.dialect,
				Schema:      schema,
				Tables:      tables,
				SampleRows:  sampleRows,
				Concurrency: concurrency,
				Force:       force,
			})
			if err != nil {
				return err
			}
			defer ix.Close()

			summary, err := ix.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d of %d tables (%d unchanged, %d removed)\n",
				summary.Indexed, summary.Tables, summary.Skipped, summary.Removed)
			return nil
		},
	}

	cmd.Flags().String("schema", "", "Schema to index (default: the connection's current schema)")
	cmd.Flags().StringSlice("tables", nil, "Only index these tables")
	cmd.Flags().Int("sample-rows", indexer.DefaultSampleRows, "Sample rows included per table")
	cmd.Flags().Int("concurrency", indexer.DefaultConcurrency, "Tables sampled in parallel")
	cmd.Flags().Bool("force", false, "Re-embed tables whose snippet is unchanged")

	return cmd
}
