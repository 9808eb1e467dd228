package dto

import (
	"time"

	"github.com/cuongbtq/fetch-service/internal/domain"
)

type CreateJobRequest struct {
	URL        string `json:"url" binding:"required"`
	OutputDir  string `json:"output_dir"`
	Format     string `json:"format"`
	Credential string `json:"credential"`
}

type CreateJobResponse struct {
	JobID  string        `json:"job_id"`
	Status domain.Status `json:"status"`
}

type ListJobsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID      string           `json:"job_id"`
	URL        string           `json:"url"`
	OutputDir  string           `json:"output_dir"`
	Format     string           `json:"format"`
	Credential string           `json:"credential,omitempty"`
	Status     domain.Status    `json:"status"`
	Result     *domain.Result   `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
	ErrorKind  domain.ErrorKind `json:"error_kind,omitempty"`
	CreatedAt  string           `json:"created_at"`
	UpdatedAt  string           `json:"updated_at"`
}

// NewJobDTO converts a registry record for the wire
func NewJobDTO(rec *domain.Record) JobDTO {
	return JobDTO{
		JobID:      rec.ID,
		URL:        rec.SourceReference,
		OutputDir:  rec.OutputDirectory,
		Format:     rec.FormatSelector,
		Credential: rec.CredentialReference,
		Status:     rec.Status,
		Result:     rec.Result,
		Error:      rec.Error,
		ErrorKind:  rec.ErrorKind,
		CreatedAt:  rec.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:  rec.UpdatedAt.Format(time.RFC3339Nano),
	}
}

type DeleteAllResponse struct {
	Deleted int    `json:"deleted"`
	Error   string `json:"error,omitempty"`
}
