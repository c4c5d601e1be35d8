package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"sync"

	"github.com/pressly/goose/v3"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var migrationFiles embed.FS

// goose keeps its base FS and dialect in package state.
var gooseMu sync.Mutex

// MigrationFiles lists the embedded migrations in apply order.
func MigrationFiles() ([]string, error) {
	names, err := fs.Glob(migrationFiles, migrationsDir+"/*.sql")
	if err != nil {
		return nil, err
	}
	for i, n := range names {
		names[i] = n[len(migrationsDir)+1:]
	}
	sort.Strings(names)
	return names, nil
}

// RunMigrations applies every pending migration. A nil database is a no-op so
// in-memory runs can call it unconditionally.
func RunMigrations(ctx context.Context, database *sql.DB) error {
	return withGoose(database, func() error {
		return goose.UpContext(ctx, database, migrationsDir)
	})
}

// RollbackMigration reverts the most recent migration.
func RollbackMigration(ctx context.Context, database *sql.DB) error {
	return withGoose(database, func() error {
		return goose.DownContext(ctx, database, migrationsDir)
	})
}

// MigrationStatus logs which migrations are applied.
func MigrationStatus(ctx context.Context, database *sql.DB) error {
	return withGoose(database, func() error {
		return goose.StatusContext(ctx, database, migrationsDir)
	})
}

func withGoose(database *sql.DB, fn func() error) error {
	if database == nil {
		return nil
	}
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	return fn()
}
