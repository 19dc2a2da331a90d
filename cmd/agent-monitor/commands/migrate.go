package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codexmonitor/agent-monitor/internal/database"
	"github.com/codexmonitor/agent-monitor/pkg/logger"
)

var migrateDir string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending PostgreSQL migrations",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&migrateDir, "dir", "", "迁移目录 (默认使用配置或内置迁移)")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, cleanup, err := loadConfig()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	dir := migrateDir
	if dir == "" {
		dir = cfg.MigrationsDir
	}
	applied, err := database.Migrate(ctx, pool, migrationSource(dir))
	if err != nil {
		return err
	}
	logger.Info("migrate: done", logger.FieldCount, len(applied), logger.FieldPath, dir)
	for _, name := range applied {
		fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
	}
	return nil
}
