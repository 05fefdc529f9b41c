package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/video2audio/internal/queue"
	"golang.org/x/sync/errgroup"
)

// spawnWorkerPool starts concurrency goroutines reading from jobsChan
func (w *Worker) spawnWorkerPool(ctx context.Context, g *errgroup.Group) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		workerNum := i
		g.Go(func() error {
			w.workerLoop(ctx, workerNum)
			return nil
		})
	}
}

// workerLoop processes jobs until the dispatcher closes jobsChan
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for msg := range w.jobsChan {
		outcome := w.handle(ctx, workerName, msg.msg)
		w.settle(ctx, workerName, msg, outcome)
	}

	w.logger.Info("Worker goroutine stopping - jobsChan closed",
		slog.String("worker_name", workerName),
	)
}

// settle acknowledges the delivery according to outcome. It runs only after the
// job store reflects the outcome.
func (w *Worker) settle(ctx context.Context, workerName string, msg *jobMessage, outcome Outcome) {
	jobID := msg.msg.JobID.String()
	logger := w.logger.With(
		slog.String("worker_name", workerName),
		slog.String("job_id", jobID),
		slog.String("action", outcome.Action.String()),
		slog.String("reason", outcome.Reason),
	)

	switch outcome.Action {
	case ActionRetry:
		if err := w.queue.PublishDelayed(context.WithoutCancel(ctx), msg.msg, outcome.Delay); err != nil {
			logger.Error("Failed to schedule retry, requeueing delivery",
				slog.Any("error", err),
			)
			w.nack(logger, msg.delivery)
			return
		}
		w.ack(logger, msg.delivery)
		logger.Info("Retry scheduled",
			slog.Duration("delay", outcome.Delay),
		)

	case ActionRequeue:
		w.nack(logger, msg.delivery)
		logger.Info("Message NACKed", slog.Bool("requeue", true))

	default:
		w.ack(logger, msg.delivery)
		logger.Debug("Message ACKed")
	}
}

func (w *Worker) ack(logger *slog.Logger, d queue.Delivery) {
	if err := d.Ack(); err != nil {
		logger.Error("Failed to ACK message",
			slog.Any("error", err),
		)
	}
}

func (w *Worker) nack(logger *slog.Logger, d queue.Delivery) {
	if err := d.Nack(true); err != nil {
		logger.Error("Failed to NACK message",
			slog.Any("error", err),
		)
	}
}
