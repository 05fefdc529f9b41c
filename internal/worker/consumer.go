package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cuongbtq/video2audio/internal/queue"
)

// errDeliveriesClosed is returned when the broker stops delivering while the worker is running
var errDeliveriesClosed = errors.New("delivery channel closed")

// startMessageDispatcher decodes deliveries and hands them to the pool. It closes
// jobsChan on return so the pool drains and exits.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan queue.Delivery) error {
	defer close(w.jobsChan)

	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Error("Delivery channel closed unexpectedly")
				return errDeliveriesClosed
			}

			msg, err := queue.Decode(delivery.Body())
			if err != nil {
				w.logger.Error("Dropping malformed message",
					slog.String("body", string(delivery.Body())),
					slog.Any("error", err),
				)
				if nackErr := delivery.Nack(false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.Any("error", nackErr),
					)
				}
				continue
			}

			select {
			case w.jobsChan <- &jobMessage{msg: msg, delivery: delivery}:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", msg.JobID.String()),
					slog.Bool("redelivered", delivery.Redelivered()),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching job")
				if nackErr := delivery.Nack(true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.Any("error", nackErr),
					)
				}
				return nil
			}
		}
	}
}
