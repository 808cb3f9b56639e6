package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/formatninja/transformd/internal/blob"
	"github.com/formatninja/transformd/internal/config"
	"github.com/formatninja/transformd/internal/convert"
	"github.com/formatninja/transformd/internal/db"
	"github.com/formatninja/transformd/internal/jobs"
	"github.com/formatninja/transformd/internal/logger"
	"github.com/formatninja/transformd/internal/queue"
	"github.com/formatninja/transformd/internal/worker"
)

func main() {
	logger.Init("transformd-worker")
	cfg := config.Load()

	database, err := db.Connect(cfg.Database)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	if err := db.RunMigrations(database, cfg.Server.MigrationsDir); err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to run migrations")
	}
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

	orchestrator := jobs.NewOrchestrator(store, files, taskQueue, engine,
		cfg.Server.SignedURLTTL, nil)

	consumer, err := queue.NewConsumer(cfg.Queue, orchestrator)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to create queue consumer")
	}
	if err := consumer.Subscribe(); err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to subscribe to task stream")
	}
	defer consumer.Close()
	logger.Logger.Info().Str("subject", cfg.Queue.Subject).Msg("Queue consumer started")

	sweeper := worker.NewSweeper(store, orchestrator, cfg.Sweeper)
	sweeper.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Logger.Info().Msg("Shutting down gracefully...")
	sweeper.Stop()
	logger.Logger.Info().Msg("Worker stopped")
}
