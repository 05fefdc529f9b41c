// Package submission accepts uploaded videos and turns them into queued conversion jobs.
package submission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/video2audio/internal/domain"
	"github.com/cuongbtq/video2audio/internal/jobstore"
	"github.com/cuongbtq/video2audio/internal/objectstore"
	"github.com/cuongbtq/video2audio/internal/queue"
)

var (
	// ErrUploadFailed is returned with the FAILED job when the video could not be stored
	ErrUploadFailed = errors.New("failed to store uploaded video")

	// ErrEnqueueFailed is returned with the PENDING job when it could not be queued.
	// The job is orphaned until resubmitted or picked up by the orphan monitor.
	ErrEnqueueFailed = errors.New("failed to enqueue job")
)

// Config bounds what a submission may contain
type Config struct {
	MaxBytes             int64
	AllowedContentPrefix string
}

// SubmitRequest is one uploaded video
type SubmitRequest struct {
	OwnerID     string
	Content     io.Reader
	Size        int64
	Filename    string
	ContentType string
}

// Service creates jobs from uploads
type Service struct {
	jobs      jobstore.Store
	objects   objectstore.Store
	publisher queue.Publisher
	config    Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a new submission service
func NewService(jobs jobstore.Store, objects objectstore.Store, publisher queue.Publisher, config Config, logger *slog.Logger) *Service {
	if config.AllowedContentPrefix == "" {
		config.AllowedContentPrefix = "video/"
	}
	return &Service{
		jobs:      jobs,
		objects:   objects,
		publisher: publisher,
		config:    config,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit stores the video and queues its conversion.
// The job row is written before the upload so that a failed upload stays inspectable.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*domain.Job, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	job := domain.NewJob(req.OwnerID, req.Filename, s.now())
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	logger := s.logger.With(
		slog.String("job_id", job.ID.String()),
		slog.String("owner_id", job.OwnerID),
	)
	logger.Info("Job created",
		slog.String("input_key", job.InputKey),
		slog.Int64("size", req.Size),
	)

	if err := s.objects.Put(ctx, job.InputKey, req.Content, req.Size, req.ContentType); err != nil {
		logger.Error("Failed to upload video",
			slog.String("input_key", job.InputKey),
			slog.Any("error", err),
		)

		// The request context may already be gone; the failure must still be recorded
		if failErr := s.jobs.Fail(context.WithoutCancel(ctx), job.ID, "", domain.ErrorCodeStorageUploadFailed); failErr != nil {
			logger.Error("Failed to mark job failed after upload error",
				slog.Any("error", failErr),
			)
		} else {
			job.Status = domain.JobStatusFailed
			job.Error = domain.ErrorCodeStorageUploadFailed
		}
		return job, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	if err := s.publisher.Publish(ctx, queue.Message{JobID: job.ID}); err != nil {
		logger.Error("Failed to enqueue job, job is orphaned in PENDING",
			slog.Any("error", err),
		)
		return job, fmt.Errorf("%w: %w", ErrEnqueueFailed, err)
	}

	logger.Info("Job enqueued")
	return job, nil
}

func (s *Service) validate(req SubmitRequest) error {
	switch {
	case strings.TrimSpace(req.OwnerID) == "":
		return domain.NewValidationError("owner_id", "is required")
	case req.Content == nil:
		return domain.NewValidationError("file", "is required")
	case strings.TrimSpace(req.Filename) == "":
		return domain.NewValidationError("filename", "is required")
	case !strings.HasPrefix(strings.ToLower(req.ContentType), s.config.AllowedContentPrefix):
		return domain.NewValidationError("content_type", fmt.Sprintf("must start with %q, got %q", s.config.AllowedContentPrefix, req.ContentType))
	case req.Size <= 0:
		return domain.NewValidationError("file", "is empty")
	case s.config.MaxBytes > 0 && req.Size > s.config.MaxBytes:
		return domain.NewValidationError("file", fmt.Sprintf("exceeds %d bytes", s.config.MaxBytes))
	}
	return nil
}
