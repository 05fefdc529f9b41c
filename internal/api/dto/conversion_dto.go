package dto

import (
	"time"

	"github.com/cuongbtq/video2audio/internal/domain"
)

type ListConversionsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListConversionsResponse struct {
	Conversions []ConversionDTO `json:"conversions"`
	NextCursor  string          `json:"next_cursor,omitempty"`
}

type ConversionDTO struct {
	JobID       string `json:"job_id"`
	OwnerID     string `json:"owner_id"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	JobID string `json:"job_id,omitempty"`
}

// FromJob renders a job for API clients. Storage keys stay internal; DONE jobs
// link to their download endpoint instead.
func FromJob(job *domain.Job) ConversionDTO {
	d := ConversionDTO{
		JobID:     job.ID.String(),
		OwnerID:   job.OwnerID,
		Status:    string(job.Status),
		Error:     string(job.Error),
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
	}
	if job.Status == domain.JobStatusDone {
		d.DownloadURL = "/api/v1/conversions/" + d.JobID + "/download"
	}
	return d
}

// FromJobs renders a page of jobs
func FromJobs(jobs []domain.Job) []ConversionDTO {
	out := make([]ConversionDTO, len(jobs))
	for i := range jobs {
		out[i] = FromJob(&jobs[i])
	}
	return out
}
