package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/video2audio/internal/api/dto"
	"github.com/cuongbtq/video2audio/internal/domain"
	"github.com/cuongbtq/video2audio/internal/gateway"
	"github.com/cuongbtq/video2audio/internal/submission"
	"github.com/gin-gonic/gin"
)

// multipartOverhead is the room allowed above the file limit for form framing
const multipartOverhead = 1 << 20

// CreateConversion handles POST /api/v1/conversions
// Accepts a multipart "file" field and queues its conversion
func (h *ConversionHandler) CreateConversion(c *gin.Context) {
	owner := ownerID(c)

	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)
	}

	header, err := c.FormFile("file")
	if err != nil {
		h.logger.Warn("Invalid upload",
			slog.String("owner_id", owner),
			slog.Any("error", err),
		)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: "file is too large"})
			return
		}
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "multipart field \"file\" is required"})
		return
	}

	file, err := header.Open()
	if err != nil {
		h.logger.Error("Failed to open uploaded file", slog.Any("error", err))
		writeError(c, err, "")
		return
	}
	defer file.Close()

	job, err := h.submission.Submit(c.Request.Context(), submission.SubmitRequest{
		OwnerID:     owner,
		Content:     file,
		Size:        header.Size,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
	})
	if err != nil {
		jobID := ""
		if job != nil {
			jobID = job.ID.String()
		}
		writeError(c, err, jobID)
		return
	}

	c.JSON(http.StatusCreated, dto.FromJob(job))
}

// ListConversions handles GET /api/v1/conversions
// Lists the caller's jobs, newest first, with cursor pagination
func (h *ConversionHandler) ListConversions(c *gin.Context) {
	var req dto.ListConversionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid query parameters"})
		return
	}

	page, err := h.gateway.ListJobs(c.Request.Context(), ownerID(c), gateway.ListOptions{
		Status:   domain.Status(req.Status),
		PageSize: req.PageSize,
		Cursor:   req.Cursor,
	})
	if err != nil {
		writeError(c, err, "")
		return
	}

	c.JSON(http.StatusOK, dto.ListConversionsResponse{
		Conversions: dto.FromJobs(page.Jobs),
		NextCursor:  page.NextCursor,
	})
}

// GetConversion handles GET /api/v1/conversions/:job_id
func (h *ConversionHandler) GetConversion(c *gin.Context) {
	jobID := c.Param("job_id")

	job, err := h.gateway.GetStatus(c.Request.Context(), jobID, ownerID(c))
	if err != nil {
		writeError(c, err, jobID)
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}

// DownloadConversion handles GET /api/v1/conversions/:job_id/download
// Streams the converted audio in bounded chunks
func (h *ConversionHandler) DownloadConversion(c *gin.Context) {
	jobID := c.Param("job_id")

	stream, err := h.gateway.DownloadOutput(c.Request.Context(), jobID, ownerID(c))
	if err != nil {
		writeError(c, err, jobID)
		return
	}
	defer stream.Close()

	c.Header("Content-Type", domain.OutputContentType)
	c.Header("Content-Disposition", `attachment; filename="`+jobID+domain.OutputExtension+`"`)
	c.Status(http.StatusOK)

	written, err := stream.WriteTo(c.Writer)
	if err != nil {
		// Headers are gone; all that is left is to cut the response short
		h.logger.Error("Download interrupted",
			slog.String("job_id", jobID),
			slog.Int64("bytes_written", written),
			slog.Any("error", err),
		)
		_ = c.Error(err)
		c.Abort()
	}
}

// Health handles GET /health
func Health(checks map[string]HealthCheck, service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		results := gin.H{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}

		state := "healthy"
		if status != http.StatusOK {
			state = "unhealthy"
		}
		c.JSON(status, gin.H{
			"status":  state,
			"service": service,
			"checks":  results,
		})
	}
}
