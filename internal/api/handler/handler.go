package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/video2audio/internal/api/dto"
	"github.com/cuongbtq/video2audio/internal/domain"
	"github.com/cuongbtq/video2audio/internal/gateway"
	"github.com/cuongbtq/video2audio/internal/objectstore"
	"github.com/cuongbtq/video2audio/internal/submission"
	"github.com/gin-gonic/gin"
)

// OwnerKey is the gin context key holding the authenticated owner id
const OwnerKey = "owner_id"

// HealthCheck reports whether one dependency is usable
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	Submission     *submission.Service
	Gateway        *gateway.Gateway
	MaxUploadBytes int64
	HealthChecks   map[string]HealthCheck
}

// ConversionHandler handles conversion-related HTTP requests
type ConversionHandler struct {
	logger         *slog.Logger
	submission     *submission.Service
	gateway        *gateway.Gateway
	maxUploadBytes int64
}

// NewConversionHandler creates a new ConversionHandler instance
func NewConversionHandler(deps *Dependencies) *ConversionHandler {
	return &ConversionHandler{
		logger:         deps.Logger,
		submission:     deps.Submission,
		gateway:        deps.Gateway,
		maxUploadBytes: deps.MaxUploadBytes,
	}
}

// ownerID returns the owner set by the owner middleware
func ownerID(c *gin.Context) string {
	return c.GetString(OwnerKey)
}

// statusFor maps service errors onto HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, objectstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, objectstore.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, objectstore.ErrUnavailable), errors.Is(err, submission.ErrEnqueueFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Server-side faults get a generic message.
func writeError(c *gin.Context, err error, jobID string) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		msg = "internal error"
	case http.StatusServiceUnavailable:
		msg = "service temporarily unavailable"
	case http.StatusForbidden:
		msg = "storage access denied"
	}

	_ = c.Error(err)
	c.JSON(status, dto.ErrorResponse{Error: msg, JobID: jobID})
}
