package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/video2audio/internal/domain"
	"github.com/cuongbtq/video2audio/internal/jobstore"
	"github.com/cuongbtq/video2audio/internal/queue"
	"github.com/cuongbtq/video2audio/internal/transcoder"
)

// settleTimeout bounds job store writes made after the work context is gone
const settleTimeout = 10 * time.Second

// handle runs the conversion protocol for one delivery and returns how the
// delivery must be settled. Every job store write happens before it returns.
func (w *Worker) handle(ctx context.Context, workerName string, msg queue.Message) Outcome {
	logger := w.logger.With(
		slog.String("job_id", msg.JobID.String()),
		slog.String("worker_name", workerName),
	)

	job, err := w.jobs.Claim(ctx, msg.JobID, workerName, w.leaseDuration)
	if err != nil {
		return w.claimFailed(ctx, logger, err)
	}

	logger = logger.With(
		slog.String("owner_id", job.OwnerID),
		slog.Int("attempt", job.Attempts),
	)

	// A previous delivery died after claiming; its attempts are spent
	if job.Attempts > w.maxAttempts {
		code := job.LastAttemptError
		if code == "" {
			code = domain.ErrorCodeUnknown
		}
		logger.Warn("Job exceeded max attempts after an interrupted delivery",
			slog.Int("max_attempts", w.maxAttempts),
			slog.String("error_code", string(code)),
		)
		return w.fail(ctx, logger, job, workerName, code)
	}

	logger.Info("Processing job",
		slog.String("input_key", job.InputKey),
		slog.Bool("retry", job.Attempts > 1),
	)

	start := time.Now()
	outputKey, leaseLost, err := w.runWithHeartbeat(ctx, logger, job, workerName)

	switch {
	case leaseLost:
		logger.Warn("Lease lost during processing, leaving job to its new owner")
		return ack("lease lost")

	case err == nil:
		return w.complete(ctx, logger, job, workerName, outputKey, time.Since(start))

	case ctx.Err() != nil:
		logger.Warn("Processing interrupted by shutdown",
			slog.Any("error", err),
		)
		w.release(ctx, logger, job, workerName, job.LastAttemptError)
		return requeue("shutdown")
	}

	kind, code := Classify(err)
	logger = logger.With(
		slog.String("error_code", string(code)),
		slog.String("kind", kind.String()),
	)

	switch kind {
	case KindRetryable:
		if job.Attempts >= w.maxAttempts {
			logger.Error("Retries exhausted",
				slog.Int("max_attempts", w.maxAttempts),
				slog.Any("error", err),
			)
			return w.fail(ctx, logger, job, workerName, code)
		}

		if relErr := w.jobs.ReleaseForRetry(ctx, job.ID, workerName, code); relErr != nil {
			return w.persistFailed(ctx, logger, "release for retry", relErr)
		}

		delay := backoff(job.Attempts, w.retryBaseDelay, w.retryMaxDelay)
		logger.Warn("Retryable fault, job will be retried",
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)
		return retry(delay, string(code))

	case KindTerminal:
		logger.Warn("Terminal fault",
			slog.Any("error", err),
		)
		return w.fail(ctx, logger, job, workerName, code)

	default:
		attrs := []any{slog.Any("error", err)}
		var pe *panicError
		if errors.As(err, &pe) {
			attrs = append(attrs, slog.String("stack", string(pe.stack)))
		}
		logger.Error("Unexpected fault while processing job", attrs...)
		return w.fail(ctx, logger, job, workerName, code)
	}
}

func (w *Worker) claimFailed(ctx context.Context, logger *slog.Logger, err error) Outcome {
	var leased *jobstore.LeasedError
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		logger.Warn("Job not found, dropping message")
		return ack("job not found")

	case errors.Is(err, jobstore.ErrJobTerminal):
		logger.Info("Job already finished, ignoring duplicate delivery")
		return ack("already terminal")

	case errors.As(err, &leased):
		// Come back when the current lease can have expired
		delay := time.Until(leased.Until)
		if delay < w.retryBaseDelay {
			delay = w.retryBaseDelay
		}
		logger.Info("Job leased by another worker, deferring delivery",
			slog.String("claimed_by", leased.ClaimedBy),
			slog.Duration("delay", delay),
		)
		return retry(delay, "leased")

	case ctx.Err() != nil:
		return requeue("shutdown")

	default:
		return w.persistFailed(ctx, logger, "claim", err)
	}
}

// persistFailed backs off and requeues after a job store failure
func (w *Worker) persistFailed(ctx context.Context, logger *slog.Logger, op string, err error) Outcome {
	if errors.Is(err, jobstore.ErrLeaseLost) || errors.Is(err, jobstore.ErrJobTerminal) {
		logger.Warn("Job changed hands before "+op+", dropping delivery",
			slog.Any("error", err),
		)
		return ack("lease lost")
	}

	logger.Error("Failed to "+op,
		slog.Any("error", err),
	)
	sleepCtx(ctx, w.retryBaseDelay)
	return requeue(op + " failed")
}

func (w *Worker) complete(ctx context.Context, logger *slog.Logger, job *domain.Job, workerName, outputKey string, took time.Duration) Outcome {
	settleCtx, cancel := w.settleContext(ctx)
	defer cancel()

	if err := w.jobs.Complete(settleCtx, job.ID, workerName, outputKey); err != nil {
		return w.persistFailed(ctx, logger, "complete job", err)
	}

	logger.Info("Job completed successfully",
		slog.String("output_key", outputKey),
		slog.Duration("duration", took),
	)
	return ack("done")
}

func (w *Worker) fail(ctx context.Context, logger *slog.Logger, job *domain.Job, workerName string, code domain.ErrorCode) Outcome {
	settleCtx, cancel := w.settleContext(ctx)
	defer cancel()

	if err := w.jobs.Fail(settleCtx, job.ID, workerName, code); err != nil {
		return w.persistFailed(ctx, logger, "fail job", err)
	}

	logger.Info("Job marked failed",
		slog.String("error_code", string(code)),
	)
	return ack("failed")
}

// release drops the lease on shutdown so the requeued delivery can claim at once
func (w *Worker) release(ctx context.Context, logger *slog.Logger, job *domain.Job, workerName string, code domain.ErrorCode) {
	settleCtx, cancel := w.settleContext(ctx)
	defer cancel()

	if err := w.jobs.ReleaseForRetry(settleCtx, job.ID, workerName, code); err != nil {
		logger.Warn("Failed to release job lease",
			slog.Any("error", err),
		)
	}
}

// settleContext keeps final job store writes alive when ctx is cancelled
func (w *Worker) settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return ctx, func() {}
	}
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

// runWithHeartbeat converts the job while extending its lease. If the lease is
// lost the conversion is cancelled and leaseLost is reported.
func (w *Worker) runWithHeartbeat(ctx context.Context, logger *slog.Logger, job *domain.Job, workerName string) (string, bool, error) {
	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	var lost atomic.Bool
	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, logger, job, workerName, heartbeatDone, func() {
		lost.Store(true)
		cancel()
	})
	defer close(heartbeatDone)

	outputKey, err := w.convert(jobCtx, job)
	return outputKey, lost.Load(), err
}

// sendJobHeartbeat periodically extends the job lease
func (w *Worker) sendJobHeartbeat(ctx context.Context, logger *slog.Logger, job *domain.Job, workerName string, done <-chan struct{}, onLost func()) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			err := w.jobs.ExtendLease(ctx, job.ID, workerName, w.leaseDuration)
			switch {
			case err == nil:
				logger.Debug("Job lease extended")
			case errors.Is(err, jobstore.ErrLeaseLost):
				onLost()
				return
			default:
				logger.Warn("Failed to extend job lease",
					slog.Any("error", err),
				)
			}
		}
	}
}

// convert downloads the input, transcodes it and uploads the result. The
// per-job temp directory is removed on every exit path, panics included.
func (w *Worker) convert(ctx context.Context, job *domain.Job) (outputKey string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()

	dir, err := os.MkdirTemp(w.tempDir, "job-"+job.ID.String()+"-")
	if err != nil {
		return "", fmt.Errorf("failed to create job temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	inputPath := filepath.Join(dir, "input"+path.Ext(job.InputKey))
	if err := w.download(ctx, job.InputKey, inputPath); err != nil {
		return "", &StageError{Code: domain.ErrorCodeStorageDownloadFailed, Err: err}
	}

	outputPath := filepath.Join(dir, "output"+domain.OutputExtension)
	if err := w.transcoder.Convert(ctx, inputPath, outputPath); err != nil {
		code := domain.ErrorCodeFFmpegFailed
		var convErr *transcoder.ConversionError
		if errors.As(err, &convErr) {
			code = convErr.Code
		}
		return "", &StageError{Code: code, Err: err}
	}

	outputKey = domain.OutputKey(job.OwnerID, job.ID)
	if err := w.upload(ctx, outputPath, outputKey); err != nil {
		return "", &StageError{Code: domain.ErrorCodeStorageUploadFailed, Err: err}
	}

	return outputKey, nil
}

func (w *Worker) download(ctx context.Context, key, dst string) error {
	src, err := w.objects.Get(ctx, key)
	if err != nil {
		return err
	}
	defer src.Close()

	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create local input: %w", err)
	}

	if _, err := copyChunks(f, src, make([]byte, w.chunkSize)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (w *Worker) upload(ctx context.Context, src, key string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open local output: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat local output: %w", err)
	}

	return w.objects.Put(ctx, key, f, info.Size(), domain.OutputContentType)
}

// copyChunks copies src to dst through buf, one bounded chunk at a time
func copyChunks(dst io.Writer, src io.Reader, buf []byte) (int64, error) {
	var written int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			m, err := dst.Write(buf[:n])
			written += int64(m)
			if err != nil {
				return written, fmt.Errorf("failed to write chunk: %w", err)
			}
			if m != n {
				return written, io.ErrShortWrite
			}
		}
		if errors.Is(readErr, io.EOF) {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}
