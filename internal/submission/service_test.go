package submission

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/cuongbtq/video2audio/internal/domain"
	"github.com/cuongbtq/video2audio/internal/jobstore"
	"github.com/cuongbtq/video2audio/internal/objectstore"
	"github.com/cuongbtq/video2audio/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	jobs    *jobstore.Memory
	objects *objectstore.Memory
	queue   *queue.Memory
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		jobs:    jobstore.NewMemory(),
		objects: objectstore.NewMemory(),
		queue:   queue.NewMemory(),
	}
	f.service = NewService(f.jobs, f.objects, f.queue, Config{MaxBytes: 1024},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func videoRequest(owner, body string) SubmitRequest {
	return SubmitRequest{
		OwnerID:     owner,
		Content:     strings.NewReader(body),
		Size:        int64(len(body)),
		Filename:    "My Clip.mp4",
		ContentType: "video/mp4",
	}
}

func TestSubmit_Success(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	job, err := f.service.Submit(ctx, videoRequest("42", "video-bytes"))
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, "videos/42/"+job.ID.String()+"/my-clip.mp4", job.InputKey)

	stored, err := f.jobs.Get(ctx, job.ID, "42")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, stored.Status)
	require.NoError(t, stored.CheckInvariants())

	data, contentType, ok := f.objects.Object(job.InputKey)
	require.True(t, ok)
	assert.Equal(t, "video-bytes", string(data))
	assert.Equal(t, "video/mp4", contentType)

	assert.Equal(t, 1, f.queue.Len())
	deliveries, err := f.queue.Consume(ctxWithCancel(t))
	require.NoError(t, err)
	msg, err := queue.Decode((<-deliveries).Body())
	require.NoError(t, err)
	assert.Equal(t, job.ID, msg.JobID)
}

func TestSubmit_SameFilenameGetsDistinctKeys(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a, err := f.service.Submit(ctx, videoRequest("42", "one"))
	require.NoError(t, err)
	b, err := f.service.Submit(ctx, videoRequest("42", "two"))
	require.NoError(t, err)
	assert.NotEqual(t, a.InputKey, b.InputKey)

	data, _, _ := f.objects.Object(a.InputKey)
	assert.Equal(t, "one", string(data))
}

func TestSubmit_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SubmitRequest)
		field  string
	}{
		{"missing owner", func(r *SubmitRequest) { r.OwnerID = " " }, "owner_id"},
		{"missing filename", func(r *SubmitRequest) { r.Filename = "" }, "filename"},
		{"not a video", func(r *SubmitRequest) { r.ContentType = "audio/mpeg" }, "content_type"},
		{"empty", func(r *SubmitRequest) { r.Size = 0 }, "file"},
		{"too large", func(r *SubmitRequest) { r.Size = 2048 }, "file"},
		{"no content", func(r *SubmitRequest) { r.Content = nil }, "file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := videoRequest("42", "bytes")
			tt.mutate(&req)

			job, err := f.service.Submit(context.Background(), req)
			assert.Nil(t, job)
			assert.ErrorIs(t, err, domain.ErrValidation)

			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, 0, f.queue.Len())
		})
	}
}

func TestSubmit_ContentTypeIsCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	req := videoRequest("42", "bytes")
	req.ContentType = "Video/QuickTime"

	_, err := f.service.Submit(context.Background(), req)
	assert.NoError(t, err)
}

func TestSubmit_UploadFailureMarksJobFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.objects.FailNext("put", objectstore.ErrUnavailable, 1)

	job, err := f.service.Submit(ctx, videoRequest("42", "bytes"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUploadFailed)
	assert.ErrorIs(t, err, objectstore.ErrUnavailable)
	require.NotNil(t, job)
	assert.Equal(t, domain.JobStatusFailed, job.Status)

	stored, err := f.jobs.Get(ctx, job.ID, "42")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, domain.ErrorCodeStorageUploadFailed, stored.Error)
	require.NoError(t, stored.CheckInvariants())
	assert.Equal(t, 0, f.queue.Len())
}

func TestSubmit_EnqueueFailureLeavesJobPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.queue.Close())

	job, err := f.service.Submit(ctx, videoRequest("42", "bytes"))
	assert.ErrorIs(t, err, ErrEnqueueFailed)
	assert.ErrorIs(t, err, queue.ErrClosed)
	require.NotNil(t, job)

	stored, err := f.jobs.Get(ctx, job.ID, "42")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, stored.Status)

	_, _, ok := f.objects.Object(job.InputKey)
	assert.True(t, ok)
}

func ctxWithCancel(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
