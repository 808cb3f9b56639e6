package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/formatninja/transformd/internal/api"
	"github.com/formatninja/transformd/internal/blob"
	"github.com/formatninja/transformd/internal/config"
	"github.com/formatninja/transformd/internal/convert"
	"github.com/formatninja/transformd/internal/db"
	"github.com/formatninja/transformd/internal/jobs"
	"github.com/formatninja/transformd/internal/logger"
	"github.com/formatninja/transformd/internal/queue"
	"github.com/formatninja/transformd/internal/websocket"
)

func main() {
	logger.Init("transformd-api")
	cfg := config.Load()

	database, err := db.Connect(cfg.Database)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	if err := db.RunMigrations(database, cfg.Server.MigrationsDir); err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to run migrations")
	}
	api.SetDBConnection(database)
	store := db.NewStore(database)

	files, err := blob.NewFileStore(cfg.Blob.RootDir, cfg.Server.BaseURL, []byte(cfg.Blob.SigningKey))
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to open blob store")
	}

	taskQueue, err := queue.NewClient(cfg.Queue)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to connect to task queue")
	}
	defer taskQueue.Close()

	engine := convert.NewEngine()
	if err := engine.Validate(); err != nil {
		logger.Logger.Fatal().Err(err).Msg("Conversion registry is incomplete")
	}

	hub := websocket.NewHub()
	go hub.Run()

	orchestrator := jobs.NewOrchestrator(store, files, taskQueue, engine,
		cfg.Server.SignedURLTTL, websocket.NewNotifier(hub))

	server := api.NewServer(cfg.Server, orchestrator, files, hub)
	go func() {
		if err := server.Start(); err != nil {
			logger.Logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Logger.Info().Msg("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	logger.Logger.Info().Msg("Server stopped")
}
