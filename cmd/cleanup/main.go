// Package main provides the room cleanup batch: it merges duplicate player
// records, drops departed players, and deletes rooms nobody is connected to.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/voiceroom/internal/config"
	"github.com/cory-johannsen/voiceroom/internal/coordinator"
	"github.com/cory-johannsen/voiceroom/internal/maintenance"
	"github.com/cory-johannsen/voiceroom/internal/observability"
	"github.com/cory-johannsen/voiceroom/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	dryRun := flag.Bool("dry-run", false, "report changes without writing them")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall time limit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if cfg.Storage.Driver != config.DriverPostgres {
		log.Fatalf("cleanup requires storage.driver=%s, got %q", config.DriverPostgres, cfg.Storage.Driver)
	}

	logger, err := observability.NewLogger("cleanup", cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	defer pool.Close()

	cleaner := maintenance.New(
		postgres.NewRoomRepository(pool.DB()),
		coordinator.PolicyFromConfig(cfg.Session),
		logger,
		*dryRun,
	)
	report, err := cleaner.Run(ctx)
	if err != nil {
		logger.Fatal("cleanup failed", zap.Error(err))
	}
	fmt.Fprintln(os.Stdout, report.String())
	if report.Failed > 0 {
		os.Exit(1)
	}
}
