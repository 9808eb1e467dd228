package handler

import (
	"log/slog"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/fetch-service/internal/api/dto"
	"github.com/cuongbtq/fetch-service/internal/domain"
	"github.com/cuongbtq/fetch-service/internal/orchestrator"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateJob handles POST /api/v1/jobs
// Registers a fetch job and returns before it runs
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	rec, err := h.jobs.SubmitJob(c.Request.Context(), orchestrator.SubmitRequest{
		SourceReference:     req.URL,
		OutputDirectory:     req.OutputDir,
		FormatSelector:      req.Format,
		CredentialReference: req.Credential,
	})
	if err != nil {
		respondError(c, "Failed to create job", err)
		return
	}

	h.logger.Info("Job created",
		slog.String("job_id", rec.ID),
		slog.String("url", rec.SourceReference),
	)

	c.JSON(http.StatusAccepted, dto.CreateJobResponse{
		JobID:  rec.ID,
		Status: rec.Status,
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	rec, err := h.jobs.GetStatus(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, "Failed to get job", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(rec))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs in submission order with optional status filter and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.Status != "" && !domain.Status(req.Status).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "status must be one of pending, running, completed, failed",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	all, err := h.jobs.ListJobs(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to list jobs", err)
		return
	}

	// one extra item tells us whether another page exists
	page := make([]*domain.Record, 0, req.PageSize+1)
	for _, rec := range all {
		if cursor != nil && rec.Seq <= cursor.Seq {
			continue
		}
		if req.Status != "" && string(rec.Status) != req.Status {
			continue
		}
		page = append(page, rec)
		if len(page) > req.PageSize {
			break
		}
	}

	hasMore := len(page) > req.PageSize
	if hasMore {
		page = page[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(page))
	for i, rec := range page {
		jobResponse[i] = dto.NewJobDTO(rec)
	}

	var nextCursor string
	if hasMore {
		last := page[len(page)-1]
		nextCursor = EncodeJobCursor(&JobCursor{Seq: last.Seq, JobID: last.ID})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// DeleteJob handles DELETE /api/v1/jobs/:job_id
// Removes the job record and its downloaded file
func (h *JobHandler) DeleteJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	res, err := h.jobs.DeleteJob(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, "Failed to delete job", err)
		return
	}

	h.logger.Info("Job deleted",
		slog.String("job_id", res.ID),
		slog.String("status", string(res.Status)),
		slog.Bool("file_removed", res.FileRemoved),
	)

	c.JSON(http.StatusOK, res)
}

// DeleteAllJobs handles DELETE /api/v1/jobs
func (h *JobHandler) DeleteAllJobs(c *gin.Context) {
	n, err := h.jobs.DeleteAllJobs(c.Request.Context())
	if err != nil {
		h.logger.Warn("Delete all jobs finished with errors",
			slog.Int("deleted", n),
			slog.String("error", err.Error()),
		)
		if n == 0 {
			respondError(c, "Failed to delete jobs", err)
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, dto.DeleteAllResponse{Deleted: n, Error: "some jobs could not be deleted"})
		return
	}

	c.JSON(http.StatusOK, dto.DeleteAllResponse{Deleted: n})
}

// DownloadFile handles GET /api/v1/jobs/:job_id/file
// Streams the output of a completed job as an attachment
func (h *JobHandler) DownloadFile(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	rf, err := h.jobs.FetchResultFile(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, "Failed to fetch result file", err)
		return
	}
	defer rf.File.Close()

	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": rf.Name,
	}))
	http.ServeContent(c.Writer, c.Request, rf.Name, rf.ModTime, rf.File)
}

func (h *JobHandler) jobIDParam(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Warn("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return "", false
	}
	return jobID, true
}
