package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/video2audio/internal/api/handler"
	"github.com/cuongbtq/video2audio/internal/api/router"
	"github.com/cuongbtq/video2audio/internal/config"
	"github.com/cuongbtq/video2audio/internal/gateway"
	"github.com/cuongbtq/video2audio/internal/jobstore"
	"github.com/cuongbtq/video2audio/internal/objectstore"
	"github.com/cuongbtq/video2audio/internal/queue"
	"github.com/cuongbtq/video2audio/internal/submission"
	"github.com/cuongbtq/video2audio/shared/logger"
	"github.com/cuongbtq/video2audio/shared/postgresql"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
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

	jobQueue, err := queue.New(cfg.QueueDriver("api-service"), appLogger.Component("queue"))
	if err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}
	defer jobQueue.Close()

	appLogger.Info("Queue connection established")

	objects, err := initObjectStore(cfg, appLogger)
	if err != nil {
		return err
	}

	jobs := jobstore.NewPostgres(dbClient, appLogger.Component("jobstore"))

	deps := &handler.Dependencies{
		Logger: appLogger.Logger,
		Submission: submission.NewService(jobs, objects, jobQueue, submission.Config{
			MaxBytes:             cfg.Upload.MaxBytes,
			AllowedContentPrefix: cfg.Upload.AllowedContentPrefix,
		}, appLogger.Component("submission")),
		Gateway:        gateway.New(jobs, objects, cfg.Worker.ChunkSize, appLogger.Component("gateway")),
		MaxUploadBytes: cfg.Upload.MaxBytes,
		HealthChecks: map[string]handler.HealthCheck{
			"database": dbClient.HealthCheck,
			"queue":    jobQueue.HealthCheck,
		},
	}

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := router.SetupRouter(deps)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		appLogger.Info("Starting HTTP server",
			slog.String("address", addr),
			slog.Duration("read_timeout", cfg.Server.ReadTimeout),
			slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down server",
			slog.String("signal", sig.String()),
		)
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
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

// initObjectStore connects to MinIO and makes sure the bucket exists
func initObjectStore(cfg *config.Config, appLogger *logger.Logger) (*objectstore.Minio, error) {
	objects, err := objectstore.NewMinio(cfg.ObjectStore(), appLogger.Component("objectstore"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize object store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := objects.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare object store bucket: %w", err)
	}

	appLogger.Info("Object store ready",
		slog.String("endpoint", cfg.Storage.Endpoint),
		slog.String("bucket", cfg.Storage.Bucket),
	)
	return objects, nil
}
