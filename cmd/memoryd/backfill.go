package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/embeddings"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/pipeline"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

var (
	backfillBatchSize int
	backfillLimit     int
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Embed stored memories that have no vector",
	Long: `Sweeps the store oldest-first and generates embeddings for memories
written before embeddings were enabled or whose pipeline attempts were
exhausted. Safe to interrupt; progress persists per row.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		logger, err := logging.New(logging.Config{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
		}, nil)
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		defer func() { _ = logger.Sync() }()

		provider, err := embeddings.New(cfg.Embeddings)
		if err != nil {
			return fmt.Errorf("creating embedding provider: %w", err)
		}
		if provider == nil {
			return fmt.Errorf("backfill requires a configured embedding provider")
		}
		defer func() { _ = provider.Close() }()

		st, err := store.New(ctx, cfg.Store, provider.Dimension(), logger)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer func() { _ = st.Close() }()

		logger.Info(ctx, "starting backfill sweep",
			zap.String("store", cfg.Store.Provider),
			zap.String("model", cfg.Embeddings.Model))

		backfiller := pipeline.NewBackfiller(st, provider, logger)
		backfiller.BatchSize = backfillBatchSize
		backfiller.Limit = backfillLimit
		res, runErr := backfiller.Run(ctx)

		fmt.Fprintf(cmd.OutOrStdout(), "processed %d memories: %d embedded, %d failed\n",
			res.Processed, res.Embedded, res.Failed)
		return runErr
	},
}

func init() {
	backfillCmd.Flags().IntVar(&backfillBatchSize, "batch-size", 0, "rows fetched per sweep (default 100)")
	backfillCmd.Flags().IntVar(&backfillLimit, "limit", 0, "maximum rows to process (0 = all)")
}
