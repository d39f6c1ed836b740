package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Migrate runs every *.sql file in dir, in name order, against dsn.
// Migration files must be idempotent.
func Migrate(ctx context.Context, logger *zap.Logger, dsn, dir string) ([]string, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}

	files, err := migrationFiles(dir)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()

	return ApplyMigrations(ctx, logger, db, files)
}

func migrationFiles(dir string) ([]string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve migrations dir: %w", err)
	}
	if _, err := os.Stat(absDir); err != nil {
		return nil, fmt.Errorf("migrations dir: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(absDir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .sql migrations in %s", absDir)
	}
	sort.Strings(files)
	return files, nil
}

// ApplyMigrations executes files in order and returns the applied base names.
func ApplyMigrations(ctx context.Context, logger *zap.Logger, db *sql.DB, files []string) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	applied := make([]string, 0, len(files))
	for _, f := range files {
		name := filepath.Base(f)
		body, err := os.ReadFile(f)
		if err != nil {
			return applied, fmt.Errorf("read %s: %w", name, err)
		}
		logger.Info("applying migration", zap.String("file", name))
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return applied, fmt.Errorf("apply %s: %w", name, err)
		}
		applied = append(applied, name)
	}
	return applied, nil
}
