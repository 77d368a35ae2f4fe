package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/internal/migration"
)

// =============================================================================
// 🗄️ 数据库迁移命令
// =============================================================================

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	var (
		dbType string
		dbURL  string
	)
	cmd := &cobra.Command{
		Use:   "migrate <" + strings.Join(migration.Actions, "|") + "> [N]",
		Short: "Database migration commands",
		Long: `Database migration commands.

  up         Apply all pending migrations
  down       Roll back the last migration
  reset      Roll back all migrations
  status     Show migration status
  version    Show the current migration version
  info       Show migration summary
  goto N     Migrate to version N
  force N    Force the recorded version to N without running migrations
  steps N    Apply N migrations; roll back with "steps -- -N"`,
		Example: `  imageflow migrate up
  imageflow migrate status --config /etc/imageflow/config.yaml
  imageflow migrate goto 1
  imageflow migrate up --db-type sqlite --db-url "file:imageflow.db"`,
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: migration.Actions,
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, err := createMigrator(flags, dbType, dbURL)
			if err != nil {
				return fmt.Errorf("failed to create migrator: %w", err)
			}
			defer migrator.Close()

			cli := migration.NewCLI(migrator, cmd.OutOrStdout())
			return cli.Execute(cmd.Context(), args[0], args[1:]...)
		},
	}
	cmd.Flags().StringVar(&dbType, "db-type", "", "Database type: postgres, mysql, sqlite (default: from config)")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "Database connection URL (default: from config)")
	return cmd
}

// createMigrator 优先使用 --db-type 与 --db-url，否则从配置构建
func createMigrator(flags *globalFlags, dbType, dbURL string) (*migration.DefaultMigrator, error) {
	if dbType != "" && dbURL != "" {
		t, err := migration.ParseDatabaseType(dbType)
		if err != nil {
			return nil, err
		}
		return migration.NewMigrator(&migration.Config{
			DatabaseType: t,
			DatabaseURL:  dbURL,
			TableName:    "schema_migrations",
			Logger:       zap.NewNop(),
		})
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database, initLogger(cfg.Log))
}
