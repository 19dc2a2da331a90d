package database

import (
	"context"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/codexmonitor/agent-monitor/pkg/errors"
	"github.com/codexmonitor/agent-monitor/pkg/logger"
)

// Migrate 按文件名顺序执行 fsys 根目录下尚未应用的 .sql 脚本,
// 每个脚本一个事务, 版本记录在 schema_version 表。返回本次应用的脚本名。
func Migrate(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS) ([]string, error) {
	if pool == nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "Migrate", "pool is required")
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`)
	if err != nil {
		logger.Error("migrate: create schema_version table failed", logger.FieldError, err)
		return nil, apperrors.Wrap(err, "Migrate", "create schema_version table")
	}

	sqlFiles, err := listMigrations(fsys)
	if err != nil {
		return nil, err
	}
	applied, err := loadAppliedVersions(ctx, pool)
	if err != nil {
		return nil, err
	}

	pending := pendingMigrations(sqlFiles, applied)
	if len(pending) > 0 {
		logger.Info("migrate: applying pending migrations", logger.FieldCount, len(pending))
	}
	for _, name := range pending {
		if err := applyOneMigration(ctx, pool, fsys, name); err != nil {
			return nil, err
		}
		logger.Info("migration applied", logger.FieldVersion, name)
	}
	return pending, nil
}

// listMigrations 返回排序后的 .sql 文件名。
func listMigrations(fsys fs.FS) ([]string, error) {
	if fsys == nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "Migrate", "migrations fs is required")
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, apperrors.Wrap(err, "Migrate", "read migrations")
	}
	var sqlFiles []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			sqlFiles = append(sqlFiles, e.Name())
		}
	}
	sort.Strings(sqlFiles)
	return sqlFiles, nil
}

func loadAppliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	if pool == nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "Migrate", "pool is required")
	}
	rows, err := pool.Query(ctx, `SELECT version FROM schema_version`)
	if err != nil {
		return nil, apperrors.Wrap(err, "Migrate", "query schema_version")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, apperrors.Wrap(err, "Migrate", "scan schema_version")
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func applyOneMigration(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, name string) error {
	if pool == nil {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "Migrate", "pool is required")
	}
	sqlBytes, err := fs.ReadFile(fsys, path.Clean(name))
	if err != nil {
		return apperrors.Wrapf(err, "Migrate", "read migration %s", name)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return apperrors.Wrapf(err, "Migrate", "begin tx for %s", name)
	}
	if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
		_ = tx.Rollback(ctx)
		return apperrors.Wrapf(err, "Migrate", "exec migration %s", name)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, name); err != nil {
		_ = tx.Rollback(ctx)
		return apperrors.Wrapf(err, "Migrate", "record migration %s", name)
	}
	if err := tx.Commit(ctx); err != nil {
		return apperrors.Wrapf(err, "Migrate", "commit migration %s", name)
	}
	return nil
}

func pendingMigrations(sqlFiles []string, applied map[string]bool) []string {
	var pending []string
	for _, name := range sqlFiles {
		if !applied[name] {
			pending = append(pending, name)
		}
	}
	return pending
}
