package cli

import (
	"context"
	"log/slog"
	"os"

	"cryptic-hunt-service/internal/config"
	"cryptic-hunt-service/internal/infra/sqldb"
	"cryptic-hunt-service/internal/logging"
	"github.com/spf13/cobra"
)

// NewMigrateCmd applies database migrations.
func NewMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations(cmd.Context(), *configPath)
		},
	}
}

func runMigrations(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg, os.Stderr)
	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Migrate(ctx)
}

// openStore opens the configured database without migrating it.
func openStore(cfg config.Config, logger *slog.Logger) (*sqldb.Store, error) {
	dsn := cfg.Database.SQLitePath
	if cfg.Database.Driver == "postgres" {
		dsn = cfg.Postgres.URL
	}
	if cfg.Database.Driver == "sqlite" {
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
	}
	logger.Info("opening database", slog.String("driver", cfg.Database.Driver))
	return sqldb.Open(cfg.Database.Driver, dsn, sqldb.WithLogger(logger))
}
