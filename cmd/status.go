package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/analysis-engine/internal/engine"
	"github.com/sells-group/analysis-engine/internal/query"
	"github.com/sells-group/analysis-engine/internal/record"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show analysis activity for the top companies",
	Long:  "Runs one aggregation request and prints the reconciled records with their derived running/queued/idle state.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		eng, pool, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		page, err := eng.Fetch(ctx, query.Filters{Page: 1, PageSize: statusLimit})
		if err != nil {
			return err
		}

		formatStatus(os.Stdout, page)
		return nil
	},
}

func formatStatus(out io.Writer, page *engine.Page) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "IDENTIFIER\tNAME\tCODE\tSTATE\tOUTCOME\tPROGRESS\tSTAGE")
	_, _ = fmt.Fprintln(w, "----------\t----\t----\t-----\t-------\t--------\t-----")

	for _, item := range page.Items {
		progress := "-"
		if item.Progress != nil {
			progress = fmt.Sprintf("%.0f%%", *item.Progress*100)
		}
		stage := record.CurrentStep(item.Steps)
		if stage == "" {
			stage = "-"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			item.Identifier,
			truncate(item.Name, 40),
			item.Code,
			item.Activity.State,
			item.Activity.Outcome,
			progress,
			truncate(stage, 30),
		)
	}
	_ = w.Flush()

	analyzerState := "unreachable"
	if page.Analyzer.Reachable {
		analyzerState = "reachable"
	}
	_, _ = fmt.Fprintf(out, "\n%d matching, %d running, %d queued, analyzer %s\n",
		page.Total, page.Active.Running, page.Active.Queued, analyzerState)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "number of records to show")
	rootCmd.AddCommand(statusCmd)
}
