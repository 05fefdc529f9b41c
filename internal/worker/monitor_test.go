package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/video2audio/internal/domain"
	"github.com/cuongbtq/video2audio/internal/jobstore"
	"github.com/cuongbtq/video2audio/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staleFixture holds one stale PENDING job, one PROCESSING job with a live
// lease and one recently updated PENDING job
type staleFixture struct {
	jobs  *jobstore.Memory
	queue *queue.Memory
	stale *domain.Job
}

func newStaleFixture(t *testing.T) *staleFixture {
	t.Helper()
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := t0

	jobs := jobstore.NewMemory()
	jobs.SetClock(func() time.Time { return now })

	stale := domain.NewJob("42", "old.mp4", t0)
	require.NoError(t, jobs.Create(ctx, stale))

	leased := domain.NewJob("42", "busy.mp4", t0)
	require.NoError(t, jobs.Create(ctx, leased))
	_, err := jobs.Claim(ctx, leased.ID, "w-0", time.Hour)
	require.NoError(t, err)

	fresh := domain.NewJob("42", "new.mp4", t0.Add(10*time.Minute))
	require.NoError(t, jobs.Create(ctx, fresh))

	now = t0.Add(11 * time.Minute)

	return &staleFixture{jobs: jobs, queue: queue.NewMemory(), stale: stale}
}

func newTestMonitor(f *staleFixture, cfg MonitorConfig) *Monitor {
	cfg.StaleAfter = 10 * time.Minute
	return NewMonitor(f.jobs, f.queue, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestMonitor_ScanReportsOnly(t *testing.T) {
	f := newStaleFixture(t)
	m := newTestMonitor(f, MonitorConfig{})

	found, err := m.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, found)
	assert.Zero(t, f.queue.Len())
}

func TestMonitor_ScanRequeues(t *testing.T) {
	f := newStaleFixture(t)
	m := newTestMonitor(f, MonitorConfig{RequeueOrphans: true})

	found, err := m.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, found)
	require.Equal(t, 1, f.queue.Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	deliveries, err := f.queue.Consume(ctx)
	require.NoError(t, err)

	d := <-deliveries
	msg, err := queue.Decode(d.Body())
	require.NoError(t, err)
	assert.Equal(t, f.stale.ID, msg.JobID)
	require.NoError(t, d.Ack())
}

func TestMonitor_RunStopsWithContext(t *testing.T) {
	f := newStaleFixture(t)
	m := newTestMonitor(f, MonitorConfig{Interval: 5 * time.Millisecond, RequeueOrphans: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return f.queue.Stats().Published > 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}
