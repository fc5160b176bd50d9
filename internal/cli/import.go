package cli

import (
	"context"
	"fmt"

	"spi-exam-service/internal/config"
	"spi-exam-service/internal/infra/filesystem"
	"spi-exam-service/internal/infra/postgres"
	"spi-exam-service/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewImportCmd publishes a question-set directory tree into Postgres.
func NewImportCmd(configPath *string) *cobra.Command {
	var (
		dir   string
		prune bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Validate a question-set directory and upsert it into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.Catalog.Root
			}
			logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Debug: cfg.Server.Debug, File: cfg.Log.File})
			if err != nil {
				return err
			}
			defer logger.Sync()
			return runImport(cmd.Context(), cfg, dir, prune, logger)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "question-set root to import (defaults to catalog.root)")
	cmd.Flags().BoolVar(&prune, "prune", false, "delete rows whose slug is no longer present in the directory")
	return cmd
}

func runImport(ctx context.Context, cfg config.Config, dir string, prune bool, logger *zap.Logger) error {
	db, err := openBun(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := applyMigrations(ctx, db, logger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	report, err := postgres.NewImporter(db, logger).Import(ctx, filesystem.NewSetSource(dir), prune)
	if err != nil {
		return err
	}
	logger.Info("import finished",
		zap.String("dir", dir),
		zap.Int("imported", len(report.Imported)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("pruned", report.Pruned),
	)
	return nil
}
