package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/video2audio/internal/api/dto"
	"github.com/cuongbtq/video2audio/internal/api/handler"
	"github.com/cuongbtq/video2audio/internal/domain"
	"github.com/cuongbtq/video2audio/internal/gateway"
	"github.com/cuongbtq/video2audio/internal/jobstore"
	"github.com/cuongbtq/video2audio/internal/objectstore"
	"github.com/cuongbtq/video2audio/internal/queue"
	"github.com/cuongbtq/video2audio/internal/submission"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	jobs    *jobstore.Memory
	objects *objectstore.Memory
	queue   *queue.Memory
	engine  *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := &testServer{
		jobs:    jobstore.NewMemory(),
		objects: objectstore.NewMemory(),
		queue:   queue.NewMemory(),
	}

	s.engine = SetupRouter(&handler.Dependencies{
		Logger:         logger,
		Submission:     submission.NewService(s.jobs, s.objects, s.queue, submission.Config{MaxBytes: 1 << 20}, logger),
		Gateway:        gateway.New(s.jobs, s.objects, 4, logger),
		MaxUploadBytes: 1 << 20,
		HealthChecks: map[string]handler.HealthCheck{
			"queue": s.queue.HealthCheck,
		},
	})
	return s
}

func (s *testServer) do(t *testing.T, req *http.Request, owner string) *httptest.ResponseRecorder {
	t.Helper()
	if owner != "" {
		req.Header.Set(OwnerHeader, owner)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, field, filename, contentType, content string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversions", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// doneJob stores a finished job and its audio
func (s *testServer) doneJob(t *testing.T, owner, audio string, storeOutput bool) *domain.Job {
	t.Helper()
	ctx := context.Background()

	job := domain.NewJob(owner, "clip.mp4", time.Now())
	require.NoError(t, s.jobs.Create(ctx, job))
	_, err := s.jobs.Claim(ctx, job.ID, "w-0", time.Minute)
	require.NoError(t, err)

	key := domain.OutputKey(owner, job.ID)
	if storeOutput {
		require.NoError(t, s.objects.Put(ctx, key, strings.NewReader(audio), int64(len(audio)), domain.OutputContentType))
	}
	require.NoError(t, s.jobs.Complete(ctx, job.ID, "w-0", key))
	return job
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestCreateConversion(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, uploadRequest(t, "file", "My Holiday.MP4", "video/mp4", "fake video"), "42")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	got := decode[dto.ConversionDTO](t, rec)
	assert.Equal(t, "PENDING", got.Status)
	assert.Equal(t, "42", got.OwnerID)
	assert.Empty(t, got.DownloadURL)

	data, contentType, ok := s.objects.Object("videos/42/" + got.JobID + "/my-holiday.mp4")
	require.True(t, ok)
	assert.Equal(t, "fake video", string(data))
	assert.Equal(t, "video/mp4", contentType)
	assert.Equal(t, 1, s.queue.Len())
}

func TestCreateConversion_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		req        func(t *testing.T) *http.Request
		owner      string
		wantStatus int
	}{
		{
			name:       "missing owner header",
			req:        func(t *testing.T) *http.Request { return uploadRequest(t, "file", "a.mp4", "video/mp4", "x") },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "not a video",
			req:        func(t *testing.T) *http.Request { return uploadRequest(t, "file", "notes.txt", "text/plain", "x") },
			owner:      "42",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty file",
			req:        func(t *testing.T) *http.Request { return uploadRequest(t, "file", "a.mp4", "video/mp4", "") },
			owner:      "42",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "wrong field name",
			req:        func(t *testing.T) *http.Request { return uploadRequest(t, "video", "a.mp4", "video/mp4", "x") },
			owner:      "42",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)

			rec := s.do(t, tt.req(t), tt.owner)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Zero(t, s.queue.Len())
		})
	}
}

func TestCreateConversion_StorageUnavailable(t *testing.T) {
	s := newTestServer(t)
	s.objects.FailNext("put", objectstore.ErrUnavailable, 1)

	rec := s.do(t, uploadRequest(t, "file", "a.mp4", "video/mp4", "x"), "42")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	resp := decode[dto.ErrorResponse](t, rec)
	require.NotEmpty(t, resp.JobID)

	status := s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/conversions/"+resp.JobID, nil), "42")
	require.Equal(t, http.StatusOK, status.Code)
	got := decode[dto.ConversionDTO](t, status)
	assert.Equal(t, "FAILED", got.Status)
	assert.Equal(t, "STORAGE_UPLOAD_FAILED", got.Error)
	assert.Zero(t, s.queue.Len())
}

func TestCreateConversion_StorageDenied(t *testing.T) {
	s := newTestServer(t)
	s.objects.FailNext("put", objectstore.ErrPermissionDenied, 1)

	rec := s.do(t, uploadRequest(t, "file", "a.mp4", "video/mp4", "x"), "42")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateConversion_EnqueueFailure(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.queue.Close())

	rec := s.do(t, uploadRequest(t, "file", "a.mp4", "video/mp4", "x"), "42")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	resp := decode[dto.ErrorResponse](t, rec)
	status := s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/conversions/"+resp.JobID, nil), "42")
	assert.Equal(t, "PENDING", decode[dto.ConversionDTO](t, status).Status)
}

func TestGetConversion(t *testing.T) {
	s := newTestServer(t)
	job := s.doneJob(t, "42", "mp3 bytes", true)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/conversions/"+job.ID.String(), nil), "42")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[dto.ConversionDTO](t, rec)
	assert.Equal(t, "DONE", got.Status)
	assert.Equal(t, "/api/v1/conversions/"+job.ID.String()+"/download", got.DownloadURL)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/conversions/"+job.ID.String(), nil), "43")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/conversions/not-a-uuid", nil), "42")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadConversion(t *testing.T) {
	s := newTestServer(t)
	job := s.doneJob(t, "42", "0123456789abcdef", true)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/conversions/"+job.ID.String()+"/download", nil), "42")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), job.ID.String()+".mp3")
	assert.Equal(t, "0123456789abcdef", rec.Body.String())
	assert.Zero(t, s.objects.OpenReaders())
}

func TestDownloadConversion_Errors(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	pending := domain.NewJob("42", "clip.mp4", time.Now())
	require.NoError(t, s.jobs.Create(ctx, pending))
	missing := s.doneJob(t, "42", "", false)
	done := s.doneJob(t, "42", "audio", true)

	download := func(id, owner string) int {
		return s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/conversions/"+id+"/download", nil), owner).Code
	}

	assert.Equal(t, http.StatusConflict, download(pending.ID.String(), "42"))
	assert.Equal(t, http.StatusNotFound, download(missing.ID.String(), "42"))
	assert.Equal(t, http.StatusNotFound, download(done.ID.String(), "43"))

	s.objects.FailNext("get", objectstore.ErrUnavailable, 1)
	assert.Equal(t, http.StatusServiceUnavailable, download(done.ID.String(), "42"))

	s.objects.FailNext("get", objectstore.ErrPermissionDenied, 1)
	assert.Equal(t, http.StatusForbidden, download(done.ID.String(), "42"))
}

func TestListConversions(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 3; i++ {
		s.doneJob(t, "42", "audio", true)
	}
	s.doneJob(t, "43", "audio", true)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/conversions?page_size=2", nil), "42")
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode[dto.ListConversionsResponse](t, rec)
	require.Len(t, first.Conversions, 2)
	require.NotEmpty(t, first.NextCursor)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/conversions?page_size=2&cursor="+first.NextCursor, nil), "42")
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[dto.ListConversionsResponse](t, rec)
	require.Len(t, second.Conversions, 1)
	assert.Empty(t, second.NextCursor)

	seen := map[string]bool{}
	for _, c := range append(first.Conversions, second.Conversions...) {
		assert.Equal(t, "42", c.OwnerID)
		seen[c.JobID] = true
	}
	assert.Len(t, seen, 3)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/conversions?status=UNKNOWN", nil), "42")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/conversions?cursor=%25%25%25", nil), "42")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]any](t, rec)["status"])

	require.NoError(t, s.queue.Close())
	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil), "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, httptest.NewRequest(http.MethodOptions, "/api/v1/conversions", nil), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), OwnerHeader)
}
