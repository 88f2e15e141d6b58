// Package main provides the room server binary: the WebSocket endpoint,
// room-session coordinator, and background sweep for voice rooms.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/voiceroom/internal/config"
	"github.com/cory-johannsen/voiceroom/internal/content"
	"github.com/cory-johannsen/voiceroom/internal/coordinator"
	"github.com/cory-johannsen/voiceroom/internal/notifier"
	"github.com/cory-johannsen/voiceroom/internal/observability"
	"github.com/cory-johannsen/voiceroom/internal/registry"
	"github.com/cory-johannsen/voiceroom/internal/room"
	"github.com/cory-johannsen/voiceroom/internal/server"
	"github.com/cory-johannsen/voiceroom/internal/signaling"
	"github.com/cory-johannsen/voiceroom/internal/storage/postgres"
	"github.com/cory-johannsen/voiceroom/internal/transport/ws"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger("roomserver", cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting room server",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("storage", cfg.Storage.Driver),
	)

	var store room.Store
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		store = room.NewMemoryStore()
		logger.Warn("using in-memory room store; rooms are lost on restart")
	default:
		pool, err := postgres.NewPool(ctx, cfg.Database, logger)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		defer pool.Close()
		store = postgres.NewRoomRepository(pool.DB())
	}

	pairs, err := content.LoadFile(cfg.Content.PhrasesPath)
	if err != nil {
		logger.Fatal("loading phrases", zap.Error(err))
	}
	random := content.NewCryptoSource()
	phrases, err := content.NewLibrary(pairs, random)
	if err != nil {
		logger.Fatal("building phrase library", zap.Error(err))
	}
	logger.Info("phrases loaded", zap.Int("pairs", phrases.Len()))

	reg := registry.New(cfg.Server.OutboxSize)
	notify := notifier.New(reg, logger)
	coord, err := coordinator.New(coordinator.Deps{
		Store:     store,
		Registry:  reg,
		Notifier:  notify,
		Relay:     signaling.New(reg, notify),
		Phrases:   phrases,
		Random:    random,
		Scheduler: coordinator.NewScheduler(),
		Retry:     coordinator.PolicyFromConfig(cfg.Session),
		Session:   cfg.Session,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("creating coordinator", zap.Error(err))
	}

	probe := server.NewProbe("room-store", store.Ping, logger)
	wsServer := ws.NewServer(cfg.Server, reg, coord, probe, cfg.Session.OperationTimeout, logger)

	ticker := server.NewTicker(logger)
	if err := ticker.Every("sweep", cfg.Session.SweepInterval, func(ctx context.Context) {
		sctx, cancel := context.WithTimeout(ctx, cfg.Session.SweepInterval)
		defer cancel()
		if _, err := coord.Sweep(sctx); err != nil {
			logger.Warn("sweep failed", zap.Error(err))
		}
	}); err != nil {
		logger.Fatal("scheduling sweep", zap.Error(err))
	}
	healthEvery := cfg.Database.HealthInterval
	if healthEvery <= 0 {
		healthEvery = 30 * time.Second
	}
	if err := ticker.Every("store-health", healthEvery, func(ctx context.Context) {
		_ = probe.Refresh(ctx)
	}); err != nil {
		logger.Fatal("scheduling store health", zap.Error(err))
	}

	lifecycle := server.NewLifecycle(logger)
	lifecycle.AddCheck("room-store", probe.Refresh)
	lifecycle.Add("jobs", ticker)
	coordDone := make(chan struct{})
	lifecycle.Add("coordinator", &server.FuncService{
		StartFn: func() error {
			<-coordDone
			return nil
		},
		StopFn: func() {
			coord.Close()
			close(coordDone)
		},
	})
	lifecycle.Add("websocket", &server.FuncService{
		StartFn: wsServer.ListenAndServe,
		StopFn:  wsServer.Stop,
	})

	logger.Info("room server initialized", zap.Duration("startup", time.Since(start)))

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("room server exited", zap.Error(err))
	}
}
