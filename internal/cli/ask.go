package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/sqlhelper/sqlhelper/agent/pkg/pipeline"
)

type AskCmd struct{}

func NewAskCmd() *AskCmd {
	return &AskCmd{}
}

func (c *AskCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question against the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			question, err := cmd.Flags().GetString("user-question")
			if err != nil {
				return fmt.Errorf("failed to get user-question flag: %w", err)
			}
			if question == "" {
				question = strings.Join(args, " ")
			}
			if strings.TrimSpace(question) == "" {
				return fmt.Errorf("a question is required")
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
			showRows, err := cmd.Flags().GetBool("show-rows")
			if err != nil {
				return fmt.Errorf("failed to get show-rows flag: %w", err)
			}
			asJSON, err := cmd.Flags().GetBool("json")
			if err != nil {
				return fmt.Errorf("failed to get json flag: %w", err)
			}

			log := newLogger(verboseFlag(cmd))

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			st, err := newStack(ctx, log)
			if err != nil {
				return err
			}
			defer st.Close()

			orch, err := st.newOrchestrator(policy)
			if err != nil {
				return err
			}

			result, err := orch.RunWithProgress(ctx, question, tc, func(p pipeline.Progress) {
				log.Debug("cli: state", "state", p.State, "mode", p.Mode, "attempt", p.Attempt)
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			printResult(out, result, showRows)
			return nil
		},
	}

	defaults := pipeline.DefaultTurnConfig()
	cmd.Flags().String("user-question", "", "Question to answer (or pass it as arguments)")
	cmd.Flags().Int("recursion-limit", defaults.StepBudget, "Maximum number of state transitions in the turn")
	cmd.Flags().Int("context-cnt", defaults.ContextCount, "Number of schema snippets to retrieve")
	cmd.Flags().Int("max-query-fix", defaults.MaxFixAttempts, "Maximum number of corrective passes")
	cmd.Flags().Int("query-fix-cnt", 0, "Corrective passes already used")
	cmd.Flags().Int("sample-info", defaults.SampleInfo, "Result rows handed to the answer writer (0 for all)")
	cmd.Flags().Bool("show-rows", false, "Print the result rows as a table")
	cmd.Flags().Bool("json", false, "Print the full turn result as JSON")

	return cmd
}

// turnConfigFromFlags starts from base and applies the turn flags the user
// set explicitly.
func turnConfigFromFlags(cmd *cobra.Command, base pipeline.TurnConfig) (pipeline.TurnConfig, error) {
	tc := base
	for name, dst := range map[string]*int{
		"recursion-limit": &tc.StepBudget,
		"context-cnt":     &tc.ContextCount,
		"max-query-fix":   &tc.MaxFixAttempts,
		"query-fix-cnt":   &tc.FixAttemptsStart,
		"sample-info":     &tc.SampleInfo,
	} {
		if !cmd.Flags().Changed(name) {
			continue
		}
		v, err := cmd.Flags().GetInt(name)
		if err != nil {
			return tc, fmt.Errorf("failed to get %s flag: %w", name, err)
		}
		*dst = v
	}
	if err := tc.Validate(); err != nil {
		return tc, fmt.Errorf("invalid flags: %w", err)
	}
	return tc, nil
}

func printResult(w io.Writer, result *pipeline.TurnResult, showRows bool) {
	fmt.Fprintln(w, result.Answer)
	if result.SQL != "" {
		fmt.Fprintf(w, "\nSQL:\n%s\n", result.SQL)
	}
	if result.Failure != nil {
		fmt.Fprintf(w, "\nFailure: %s\n", result.Failure.Kind)
	}
	if result.FixAttemptsUsed > 0 {
		fmt.Fprintf(w, "Fix attempts: %d\n", result.FixAttemptsUsed)
	}
	if showRows && len(result.Rows) > 0 {
		fmt.Fprintln(w)
		renderRows(w, result.Rows)
	}
}

// renderRows prints rows as a table with columns in name order.
func renderRows(w io.Writer, rows []pipeline.Row) {
	seen := map[string]bool{}
	var columns []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
	}
	sort.Strings(columns)

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader(columns)
	for _, row := range rows {
		cells := make([]string, len(columns))
		for i, col := range columns {
			if v, ok := row[col]; ok && v != nil {
				cells[i] = fmt.Sprint(v)
			} else {
				cells[i] = "NULL"
			}
		}
		table.Append(cells)
	}
	table.Render()
}
