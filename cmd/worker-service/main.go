package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/video2audio/internal/config"
	"github.com/cuongbtq/video2audio/internal/jobstore"
	"github.com/cuongbtq/video2audio/internal/objectstore"
	"github.com/cuongbtq/video2audio/internal/queue"
	"github.com/cuongbtq/video2audio/internal/transcoder"
	"github.com/cuongbtq/video2audio/internal/worker"
	"github.com/cuongbtq/video2audio/shared/logger"
	"github.com/cuongbtq/video2audio/shared/postgresql"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("queue_driver", cfg.Queue.Driver),
	)

	dbClient, err := postgresql.NewClient(cfg.PostgreSQL(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	consumerTag := cfg.Worker.ID
	if consumerTag == "" {
		consumerTag = "worker-service"
	}
	jobQueue, err := queue.New(cfg.QueueDriver(consumerTag), appLogger.Component("queue"))
	if err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}
	defer jobQueue.Close()

	appLogger.Info("Queue connection established")

	objects, err := objectstore.NewMinio(cfg.ObjectStore(), appLogger.Component("objectstore"))
	if err != nil {
		return fmt.Errorf("failed to initialize object store: %w", err)
	}

	jobs := jobstore.NewPostgres(dbClient, appLogger.Component("jobstore"))

	ffmpeg := transcoder.NewFFmpeg(&transcoder.Config{
		FFmpegPath: cfg.Transcoder.FFmpegPath,
		Timeout:    cfg.Transcoder.Timeout,
		AudioCodec: cfg.Transcoder.AudioCodec,
		Bitrate:    cfg.Transcoder.Bitrate,
	}, appLogger.Component("transcoder"))

	workerInstance := worker.NewWorker(worker.Config{
		WorkerID:          cfg.Worker.ID,
		Concurrency:       cfg.Worker.Concurrency,
		MaxAttempts:       cfg.Worker.MaxAttempts,
		RetryBaseDelay:    cfg.Worker.RetryBaseDelay,
		RetryMaxDelay:     cfg.Worker.RetryMaxDelay,
		JobTimeout:        cfg.Worker.JobTimeout,
		LeaseDuration:     cfg.Worker.LeaseDuration,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		TempDir:           cfg.Worker.TempDir,
		ChunkSize:         cfg.Worker.ChunkSize,
		ShutdownTimeout:   cfg.Worker.ShutdownTimeout,
	}, worker.Dependencies{
		Logger:     appLogger.Component("worker"),
		Jobs:       jobs,
		Objects:    objects,
		Transcoder: ffmpeg,
		Queue:      jobQueue,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return workerInstance.Start(gctx)
	})

	if cfg.Monitor.Enabled {
		monitor := worker.NewMonitor(jobs, jobQueue, worker.MonitorConfig{
			Interval:       cfg.Monitor.Interval,
			StaleAfter:     cfg.Monitor.StaleAfter,
			RequeueOrphans: cfg.Monitor.RequeueOrphans,
		}, appLogger.Component("monitor"))
		g.Go(func() error {
			return monitor.Run(gctx)
		})
	}

	appLogger.Info("Worker service started successfully")

	if err := g.Wait(); err != nil {
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		Service:      cfg.App.Name,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}
