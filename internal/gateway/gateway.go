// Package gateway gives owners read access to their jobs and converted audio.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/video2audio/internal/domain"
	"github.com/cuongbtq/video2audio/internal/jobstore"
	"github.com/cuongbtq/video2audio/internal/objectstore"
	"github.com/google/uuid"
)

const (
	defaultChunkSize = 32 * 1024
	defaultPageSize  = 20
	maxPageSize      = 100
)

// ErrNotReady is returned by DownloadOutput for jobs that are not DONE
var ErrNotReady = errors.New("job output not ready")

// Gateway serves job status and downloads scoped by owner
type Gateway struct {
	jobs      jobstore.Store
	objects   objectstore.Store
	chunkSize int
	logger    *slog.Logger
}

// New creates a gateway; chunkSize bounds each Stream chunk
func New(jobs jobstore.Store, objects objectstore.Store, chunkSize int, logger *slog.Logger) *Gateway {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Gateway{
		jobs:      jobs,
		objects:   objects,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// GetStatus returns the persisted job. A job owned by someone else is reported
// as not found.
func (g *Gateway) GetStatus(ctx context.Context, jobID, ownerID string) (*domain.Job, error) {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return nil, domain.ErrJobNotFound
	}
	return g.jobs.Get(ctx, id, ownerID)
}

// DownloadOutput opens the converted audio of a DONE job. Object store errors are
// returned unchanged so callers can tell NotFound, PermissionDenied and
// Unavailable apart.
func (g *Gateway) DownloadOutput(ctx context.Context, jobID, ownerID string) (*Stream, error) {
	job, err := g.GetStatus(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusDone {
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotReady, job.ID, job.Status)
	}

	rc, err := g.objects.Get(ctx, job.OutputKey)
	if err != nil {
		g.logger.Error("Failed to open job output",
			slog.String("job_id", job.ID.String()),
			slog.String("output_key", job.OutputKey),
			slog.Any("error", err),
		)
		return nil, err
	}

	return NewStream(rc, g.chunkSize, job.OutputKey), nil
}

// ListOptions selects one page of an owner's jobs
type ListOptions struct {
	Status   domain.Status
	PageSize int
	Cursor   string
}

// Page is one page of jobs, newest first. NextCursor is empty on the last page.
type Page struct {
	Jobs       []domain.Job
	NextCursor string
}

// ListJobs returns an owner's jobs with keyset pagination
func (g *Gateway) ListJobs(ctx context.Context, ownerID string, opts ListOptions) (*Page, error) {
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", opts.Status))
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	cursor, err := DecodeCursor(opts.Cursor)
	if err != nil {
		return nil, domain.NewValidationError("cursor", err.Error())
	}

	jobs, err := g.jobs.List(ctx, jobstore.Filter{
		OwnerID:  ownerID,
		Status:   opts.Status,
		PageSize: pageSize,
		Cursor:   cursor,
	})
	if err != nil {
		return nil, err
	}

	page := &Page{Jobs: jobs}
	if len(jobs) > pageSize {
		page.Jobs = jobs[:pageSize]
		last := page.Jobs[pageSize-1]
		page.NextCursor = EncodeCursor(&jobstore.Cursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.ID.String(),
		})
	}

	return page, nil
}
