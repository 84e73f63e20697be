package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/analysis-engine/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "analysis-engine",
	Short: "Read-side aggregation engine for company analysis data",
	Long:  "Serves reconciled company analysis records: schema-aware queries over the primary table, gap-filling from auxiliary sources, and derived running/queued/idle state.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
