package main

import (
	"errors"
	"flag"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"

	"github.com/klinikgigi/queue-engine/internal/db"
	"github.com/klinikgigi/queue-engine/pkg/logging"
)

func main() {
	down := flag.Bool("down", false, "roll back one migration instead of applying all")
	flag.Parse()
	_ = godotenv.Load()

	logger := logging.New(os.Getenv("LOG_LEVEL")).With("service", "migrate")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Error("POSTGRES_DSN is required")
		os.Exit(1)
	}

	if !*down {
		if err := db.MigrateUp(dsn); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		logger.Info("schema is up to date")
		return
	}

	m, err := db.NewMigrator(dsn)
	if err != nil {
		logger.Error("open migrator", "error", err)
		os.Exit(1)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error("migrate down failed", "error", err)
		os.Exit(1)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.Error("read schema version", "error", err)
		os.Exit(1)
	}
	logger.Info("rolled back one migration", "version", version, "dirty", dirty)
}
