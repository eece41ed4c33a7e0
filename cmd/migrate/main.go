// Package main provides a CLI tool for running database migrations.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/metal-price-cache/internal/config"
	"github.com/metal-price-cache/internal/storage"
)

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, version")
		path   = flag.String("path", storage.DefaultMigrationsPath, "Directory holding the Postgres migrations")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Persistence.Backend != config.BackendPostgres {
		log.Printf("Note: PERSISTENCE_BACKEND is %q; the server will not use the price_snapshot table", cfg.Persistence.Backend)
	}

	if _, err := os.Stat(*path); os.IsNotExist(err) {
		log.Fatalf("Migrations directory not found: %s", *path)
	}

	databaseURL := cfg.Database.Postgres.URL()

	switch *action {
	case "up":
		log.Println("Running Postgres migrations...")
		if err := storage.RunMigrations(databaseURL, *path); err != nil {
			log.Fatalf("Postgres migration failed: %v", err)
		}
		log.Println("Postgres migrations completed successfully")

	case "down":
		log.Println("Rolling back last Postgres migration...")
		if err := storage.RollbackMigrations(databaseURL, *path); err != nil {
			log.Fatalf("Postgres rollback failed: %v", err)
		}
		log.Println("Postgres rollback completed successfully")

	case "version":
		version, dirty, err := storage.MigrationVersion(databaseURL, *path)
		if err != nil {
			log.Fatalf("Failed to read migration version: %v", err)
		}
		log.Printf("Current migration version: %d (dirty: %v)", version, dirty)

	default:
		log.Fatalf("Unknown action: %s (use up, down, or version)", *action)
	}
}
