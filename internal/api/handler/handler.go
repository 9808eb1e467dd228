package handler

import (
	"context"
	"io"
	"log/slog"

	"github.com/cuongbtq/fetch-service/internal/domain"
	"github.com/cuongbtq/fetch-service/internal/orchestrator"
	"github.com/cuongbtq/fetch-service/internal/worker"
)

// JobService is the orchestrator surface the handlers call
type JobService interface {
	SubmitJob(ctx context.Context, req orchestrator.SubmitRequest) (*domain.Record, error)
	GetStatus(ctx context.Context, id string) (*domain.Record, error)
	ListJobs(ctx context.Context) ([]*domain.Record, error)
	DeleteJob(ctx context.Context, id string) (*orchestrator.DeleteResult, error)
	DeleteAllJobs(ctx context.Context) (int, error)
	FetchResultFile(ctx context.Context, id string) (*orchestrator.ResultFile, error)
	ProbeMetadata(ctx context.Context, source, credential string) (*domain.MediaInfo, error)
	ListFormats(ctx context.Context, source, credential string) ([]domain.Format, error)
}

// CredentialStore lists and stores cookie bundles
type CredentialStore interface {
	List() ([]string, error)
	Save(name string, r io.Reader) error
}

// HealthChecker reports whether a backing dependency is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// PoolStats reports execution pool load
type PoolStats interface {
	Stats() worker.Stats
}

// JobCounter reports how many jobs the registry holds
type JobCounter interface {
	Len() int
	CountByStatus(s domain.Status) int
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Jobs        JobService
	Credentials CredentialStore
	DB          HealthChecker
	Pool        PoolStats
	Counter     JobCounter
	ServiceName string
	CORSOrigins []string
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	jobs   JobService
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
	}
}

// MediaHandler serves probe-only metadata queries
type MediaHandler struct {
	logger *slog.Logger
	jobs   JobService
}

func NewMediaHandler(deps *Dependencies) *MediaHandler {
	return &MediaHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
	}
}

// CredentialHandler manages named cookie bundles
type CredentialHandler struct {
	logger *slog.Logger
	store  CredentialStore
}

func NewCredentialHandler(deps *Dependencies) *CredentialHandler {
	return &CredentialHandler{
		logger: deps.Logger,
		store:  deps.Credentials,
	}
}
