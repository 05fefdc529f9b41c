package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cuongbtq/video2audio/internal/jobstore"
	"github.com/cuongbtq/video2audio/internal/objectstore"
	"github.com/cuongbtq/video2audio/internal/queue"
	"github.com/cuongbtq/video2audio/internal/transcoder"
	"golang.org/x/sync/errgroup"
)

// Queue is the broker surface the worker needs
type Queue interface {
	queue.Publisher
	queue.Consumer
}

// Config holds worker configuration
type Config struct {
	WorkerID          string
	Concurrency       int
	MaxAttempts       int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	JobTimeout        time.Duration
	LeaseDuration     time.Duration
	HeartbeatInterval time.Duration
	TempDir           string
	ChunkSize         int
	ShutdownTimeout   time.Duration
}

// Dependencies are the collaborators a worker drives
type Dependencies struct {
	Logger     *slog.Logger
	Jobs       jobstore.Store
	Objects    objectstore.Store
	Transcoder transcoder.Transcoder
	Queue      Queue
}

// Worker pulls job ids from the queue and runs the conversion protocol on a
// fixed pool of goroutines
type Worker struct {
	logger     *slog.Logger
	jobs       jobstore.Store
	objects    objectstore.Store
	transcoder transcoder.Transcoder
	queue      Queue

	workerID          string
	concurrency       int
	maxAttempts       int
	retryBaseDelay    time.Duration
	retryMaxDelay     time.Duration
	jobTimeout        time.Duration
	leaseDuration     time.Duration
	heartbeatInterval time.Duration
	tempDir           string
	chunkSize         int
	shutdownTimeout   time.Duration

	jobsChan chan *jobMessage
	stopOnce sync.Once
	stopChan chan struct{}
}

// jobMessage is a decoded delivery handed from the dispatcher to the pool
type jobMessage struct {
	msg      queue.Message
	delivery queue.Delivery
}

// NewWorker creates a new worker instance, filling unset tunables with defaults
func NewWorker(cfg Config, deps Dependencies) *Worker {
	w := &Worker{
		logger:            deps.Logger,
		jobs:              deps.Jobs,
		objects:           deps.Objects,
		transcoder:        deps.Transcoder,
		queue:             deps.Queue,
		workerID:          cfg.WorkerID,
		concurrency:       cfg.Concurrency,
		maxAttempts:       cfg.MaxAttempts,
		retryBaseDelay:    cfg.RetryBaseDelay,
		retryMaxDelay:     cfg.RetryMaxDelay,
		jobTimeout:        cfg.JobTimeout,
		leaseDuration:     cfg.LeaseDuration,
		heartbeatInterval: cfg.HeartbeatInterval,
		tempDir:           cfg.TempDir,
		chunkSize:         cfg.ChunkSize,
		shutdownTimeout:   cfg.ShutdownTimeout,
		jobsChan:          make(chan *jobMessage),
		stopChan:          make(chan struct{}),
	}

	if w.workerID == "" {
		host, _ := os.Hostname()
		w.workerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if w.concurrency <= 0 {
		w.concurrency = 1
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = 3
	}
	if w.retryBaseDelay <= 0 {
		w.retryBaseDelay = 5 * time.Second
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = 15 * time.Minute
	}
	if w.leaseDuration <= 0 {
		w.leaseDuration = 2 * time.Minute
	}
	if w.heartbeatInterval <= 0 {
		w.heartbeatInterval = w.leaseDuration / 3
	}
	if w.chunkSize <= 0 {
		w.chunkSize = 32 * 1024
	}
	if w.shutdownTimeout <= 0 {
		w.shutdownTimeout = 30 * time.Second
	}

	return w
}

// Start consumes deliveries until ctx is cancelled or Stop is called, then waits
// for in-flight jobs. Jobs still running after the shutdown timeout are aborted
// and their deliveries requeued.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("max_attempts", w.maxAttempts),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	if w.tempDir != "" {
		if err := os.MkdirAll(w.tempDir, 0o700); err != nil {
			return fmt.Errorf("failed to create temp dir: %w", err)
		}
	}

	consumeCtx, cancelConsume := context.WithCancel(ctx)
	defer cancelConsume()
	go func() {
		select {
		case <-w.stopChan:
			cancelConsume()
		case <-consumeCtx.Done():
		}
	}()

	deliveries, err := w.queue.Consume(consumeCtx)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	// In-flight work outlives the consumer by up to shutdownTimeout
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	poolDone := make(chan struct{})
	go func() {
		select {
		case <-poolDone:
			return
		case <-consumeCtx.Done():
		}
		timer := time.NewTimer(w.shutdownTimeout)
		defer timer.Stop()
		select {
		case <-poolDone:
		case <-timer.C:
			w.logger.Warn("Shutdown timeout reached, aborting in-flight jobs",
				slog.Duration("shutdown_timeout", w.shutdownTimeout),
			)
			cancelWork()
		}
	}()

	g := new(errgroup.Group)
	g.Go(func() error {
		return w.startMessageDispatcher(consumeCtx, deliveries)
	})
	w.spawnWorkerPool(workCtx, g)

	err = g.Wait()
	close(poolDone)

	w.logger.Info("Worker stopped",
		slog.String("worker_id", w.workerID),
	)
	return err
}

// Stop asks a running Start to drain and return
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
	})
}
