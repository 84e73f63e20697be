package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/analysis-engine/internal/analyzer"
	"github.com/sells-group/analysis-engine/internal/db"
	"github.com/sells-group/analysis-engine/internal/engine"
	"github.com/sells-group/analysis-engine/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		eng, pool, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		serverCfg := cfg.Server
		if servePort != 0 {
			serverCfg.Port = servePort
		}

		zap.L().Info("engine ready",
			zap.String("schema", cfg.Engine.Schema),
			zap.Int("port", serverCfg.Port),
		)
		return server.New(eng, serverCfg).Run(ctx)
	},
}

// newEngine connects the pool and wires the engine from config.
func newEngine(ctx context.Context) (*engine.Engine, *pgxpool.Pool, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, nil, eris.New("store.database_url is not configured")
	}

	pool, err := db.Connect(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns, cfg.Store.MinConns)
	if err != nil {
		return nil, nil, err
	}

	checker := analyzer.NewChecker(
		cfg.Analyzer.BaseURL,
		time.Duration(cfg.Analyzer.TimeoutSecs)*time.Second,
		time.Duration(cfg.Analyzer.HealthTTLSecs)*time.Second,
		cfg.Analyzer.ProbesPerSec,
	)

	eng, err := engine.New(pool, cfg.Engine, checker)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return eng, pool, nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
