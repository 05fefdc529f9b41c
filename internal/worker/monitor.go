package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/video2audio/internal/domain"
	"github.com/cuongbtq/video2audio/internal/jobstore"
	"github.com/cuongbtq/video2audio/internal/queue"
)

const monitorBatch = 100

// MonitorConfig holds orphan monitor configuration
type MonitorConfig struct {
	Interval       time.Duration
	StaleAfter     time.Duration
	RequeueOrphans bool
}

// Monitor finds jobs at risk of never finishing: PENDING jobs whose enqueue was
// lost and PROCESSING jobs whose lease expired without a redelivery
type Monitor struct {
	jobs      jobstore.Store
	publisher queue.Publisher
	config    MonitorConfig
	logger    *slog.Logger
}

// NewMonitor creates an orphan monitor
func NewMonitor(jobs jobstore.Store, publisher queue.Publisher, config MonitorConfig, logger *slog.Logger) *Monitor {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = 10 * time.Minute
	}
	return &Monitor{
		jobs:      jobs,
		publisher: publisher,
		config:    config,
		logger:    logger,
	}
}

// Run scans every interval until ctx is cancelled
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("Orphan monitor started",
		slog.Duration("interval", m.config.Interval),
		slog.Duration("stale_after", m.config.StaleAfter),
		slog.Bool("requeue_orphans", m.config.RequeueOrphans),
	)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Orphan monitor stopped")
			return nil
		case <-ticker.C:
			if _, err := m.Scan(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("Orphan scan failed",
					slog.Any("error", err),
				)
			}
		}
	}
}

// Scan reports stale jobs once and, when configured, republishes them.
// It returns the number of stale jobs found.
func (m *Monitor) Scan(ctx context.Context) (int, error) {
	found := 0
	for _, status := range []domain.Status{domain.JobStatusPending, domain.JobStatusProcessing} {
		jobs, err := m.jobs.ListStale(ctx, status, m.config.StaleAfter, monitorBatch)
		if err != nil {
			return found, err
		}

		for _, job := range jobs {
			found++
			logger := m.logger.With(
				slog.String("job_id", job.ID.String()),
				slog.String("owner_id", job.OwnerID),
				slog.String("status", string(job.Status)),
				slog.Time("updated_at", job.UpdatedAt),
				slog.Int("attempts", job.Attempts),
			)

			if !m.config.RequeueOrphans {
				logger.Warn("Job at risk: no progress since updated_at")
				continue
			}

			if err := m.publisher.Publish(ctx, queue.Message{JobID: job.ID}); err != nil {
				logger.Error("Failed to republish orphaned job",
					slog.Any("error", err),
				)
				continue
			}
			logger.Warn("Republished orphaned job")
		}
	}
	return found, nil
}
