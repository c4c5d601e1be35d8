package main

// Run database migrations:
//   go run ./cmd/migrate          apply pending migrations
//   go run ./cmd/migrate status   list applied migrations
//   go run ./cmd/migrate down     revert the latest migration

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"url-analyzer/internal/shared/config"
	"url-analyzer/internal/shared/storage/db"
	"url-analyzer/internal/shared/telemetry"
)

func main() {
	cfg := config.Load()
	telemetry.Configure(telemetry.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "url-analyzer-migrate"})
	ctx := context.Background()

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}
	run, err := migration(command)
	if err != nil {
		telemetry.Error("migrate.usage", map[string]any{"error": err.Error()})
		os.Exit(2)
	}

	sqlDB, err := db.Open(ctx, cfg.DatabaseURL, db.ProfileMigrate)
	if err != nil {
		telemetry.Error("migrate.connect_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer sqlDB.Close()

	if err := run(ctx, sqlDB); err != nil {
		telemetry.Error("migrate.failed", map[string]any{"command": command, "error": err.Error()})
		os.Exit(1)
	}
	telemetry.Info("migrate.done", map[string]any{"command": command})
}

func migration(command string) (func(context.Context, *sql.DB) error, error) {
	switch command {
	case "up":
		return db.RunMigrations, nil
	case "down":
		return db.RollbackMigration, nil
	case "status":
		return db.MigrationStatus, nil
	}
	return nil, fmt.Errorf("unknown command %q (want up, down or status)", command)
}
