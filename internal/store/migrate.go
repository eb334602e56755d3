package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
)

// ApplyMigrations runs every pending *.up.sql file in migrationsDir, each in
// its own transaction, in lexical order.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	return ApplyMigrationsFS(ctx, db, os.DirFS(migrationsDir))
}

func ApplyMigrationsFS(ctx context.Context, db *sql.DB, fsys fs.FS) error {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}

	versions, err := upMigrations(fsys)
	if err != nil {
		return err
	}

	for _, version := range versions {
		migrated, err := isMigrated(ctx, db, version)
		if err != nil {
			return err
		}
		if migrated {
			continue
		}
		contents, err := fs.ReadFile(fsys, version)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", version, err)
		}
		if err := applyMigration(ctx, db, version, string(contents)); err != nil {
			return err
		}
	}
	return nil
}

// upMigrations lists the up files at the root of fsys, sorted.
func upMigrations(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var versions []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name := path.Base(entry.Name()); strings.HasSuffix(name, ".up.sql") {
			versions = append(versions, name)
		}
	}
	sort.Strings(versions)
	return versions, nil
}

func applyMigration(ctx context.Context, db *sql.DB, version, contents string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, contents); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute migration %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, version); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", version, err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
