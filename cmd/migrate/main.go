// Package main provides the database migration runner for the postgres
// snapshot store.
package main

import (
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/fortune/internal/config"
	"github.com/cory-johannsen/fortune/internal/observability"
	"github.com/cory-johannsen/fortune/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	source := flag.String("source", "file://migrations", "migration source URL")
	direction := flag.String("direction", "up", "migration direction: up or down")
	steps := flag.Int("steps", 0, "number of steps (0 = all)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	version, err := postgres.Migrate(*source, cfg.Database.DSN(), *direction, *steps, logger)
	if err != nil {
		logger.Fatal("migration failed",
			zap.String("direction", *direction),
			zap.Int("steps", *steps),
			zap.Error(err),
		)
	}
	logger.Info("migration complete",
		zap.String("database", cfg.Database.Name),
		zap.Uint("version", version),
		zap.Duration("elapsed", time.Since(start)),
	)
}
