// Package orchestrator is the entry point of the job service. It validates
// submissions, hands work to the pool, answers queries and runs startup
// reconciliation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cuongbtq/fetch-service/internal/domain"
	"github.com/cuongbtq/fetch-service/internal/events"
	"github.com/cuongbtq/fetch-service/internal/filename"
	"github.com/cuongbtq/fetch-service/internal/metrics"
)

const defaultProbeTimeout = 2 * time.Minute

// Registry is the job index the orchestrator reads and writes through
type Registry interface {
	Load(ctx context.Context) (int, error)
	Create(ctx context.Context, in *domain.Record) (*domain.Record, error)
	Get(ctx context.Context, id string) (*domain.Record, error)
	List(ctx context.Context) []*domain.Record
	Update(ctx context.Context, id string, mutate func(*domain.Record) error) (*domain.Record, error)
	Delete(ctx context.Context, id string) (*domain.Record, error)
}

// Reconciler fails jobs left unfinished by a previous run
type Reconciler interface {
	Reconcile(ctx context.Context) ([]*domain.Record, error)
}

// Pool runs submitted jobs
type Pool interface {
	Start(ctx context.Context) error
	Submit(id string) error
	Stop(ctx context.Context) error
}

// Prober answers synchronous metadata queries
type Prober interface {
	Probe(ctx context.Context, source, credential string) (*domain.MediaInfo, error)
	Formats(ctx context.Context, source, credential string) ([]domain.Format, error)
}

// CredentialValidator checks credential references at submission
type CredentialValidator interface {
	Validate(ref string) error
}

// Config holds orchestrator dependencies
type Config struct {
	Logger       *slog.Logger
	Registry     Registry
	Reconciler   Reconciler
	Pool         Pool
	Prober       Prober
	Credentials  CredentialValidator
	Publisher    events.Publisher
	Metrics      *metrics.Collector
	DownloadRoot string
	ProbeTimeout time.Duration
	Retention    RetentionConfig
}

// SubmitRequest is the caller input for a new job
type SubmitRequest struct {
	SourceReference     string
	OutputDirectory     string
	FormatSelector      string
	CredentialReference string
}

// Orchestrator coordinates the registry, the pool and the backend
type Orchestrator struct {
	logger       *slog.Logger
	registry     Registry
	reconciler   Reconciler
	pool         Pool
	prober       Prober
	creds        CredentialValidator
	publisher    events.Publisher
	metrics      *metrics.Collector
	downloadRoot string
	probeTimeout time.Duration
	retentionCfg RetentionConfig
	now          func() time.Time

	probes singleflight.Group

	lifecycle sync.Mutex
	started   atomic.Bool
	stopping  atomic.Bool
	retention *retention
}

// New creates an orchestrator. The download root is made absolute.
func New(cfg *Config) (*Orchestrator, error) {
	if cfg.Registry == nil || cfg.Reconciler == nil || cfg.Pool == nil {
		return nil, errors.New("orchestrator requires a registry, a reconciler and a pool")
	}
	if strings.TrimSpace(cfg.DownloadRoot) == "" {
		return nil, errors.New("download root is required")
	}
	root, err := filepath.Abs(cfg.DownloadRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve download root: %w", err)
	}

	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.Noop{}
	}
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}

	return &Orchestrator{
		logger:       cfg.Logger,
		registry:     cfg.Registry,
		reconciler:   cfg.Reconciler,
		pool:         cfg.Pool,
		prober:       cfg.Prober,
		creds:        cfg.Credentials,
		publisher:    publisher,
		metrics:      cfg.Metrics,
		downloadRoot: filepath.Clean(root),
		probeTimeout: probeTimeout,
		retentionCfg: cfg.Retention,
		now:          time.Now,
	}, nil
}

// Start reconciles unfinished jobs, loads the registry and starts the pool.
// No query or submission is served before it returns successfully.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	if o.started.Load() {
		return nil
	}

	reconciled, err := o.reconciler.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("%w: reconcile jobs: %v", domain.ErrInternal, err)
	}
	o.metrics.JobsReconciled(len(reconciled))
	for _, rec := range reconciled {
		o.publish(domain.EventJobInterrupted, rec)
	}

	loaded, err := o.registry.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: load registry: %v", domain.ErrInternal, err)
	}

	if err := o.pool.Start(ctx); err != nil {
		return fmt.Errorf("start pool: %w", err)
	}

	if o.retentionCfg.Schedule != "" {
		o.retention, err = newRetention(o.retentionCfg, o.PruneTerminal, o.logger)
		if err != nil {
			return err
		}
		o.retention.start()
	}

	o.started.Store(true)
	o.logger.Info("Orchestrator started",
		slog.Int("reconciled", len(reconciled)),
		slog.Int("loaded", loaded),
		slog.String("download_root", o.downloadRoot),
	)
	return nil
}

// Stop stops the retention scheduler and the pool. Queued jobs stay pending
// and are reconciled on the next start.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	o.stopping.Store(true)
	if o.retention != nil {
		o.retention.stop()
		o.retention = nil
	}
	if err := o.pool.Stop(ctx); err != nil {
		return fmt.Errorf("stop pool: %w", err)
	}
	o.logger.Info("Orchestrator stopped")
	return nil
}

// DownloadRoot returns the absolute root all output directories live under
func (o *Orchestrator) DownloadRoot() string {
	return o.downloadRoot
}

// SubmitJob validates req, persists a pending record and queues it.
// It never waits for the job to run.
func (o *Orchestrator) SubmitJob(ctx context.Context, req SubmitRequest) (*domain.Record, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	if o.stopping.Load() {
		return nil, fmt.Errorf("%w: shutting down", domain.ErrNotStarted)
	}

	source := strings.TrimSpace(req.SourceReference)
	if source == "" {
		return nil, fmt.Errorf("%w: source reference is required", domain.ErrInvalidRequest)
	}
	outputDir, err := o.resolveOutputDir(req.OutputDirectory)
	if err != nil {
		return nil, err
	}
	credential := strings.TrimSpace(req.CredentialReference)
	if credential != "" && o.creds != nil {
		if err := o.creds.Validate(credential); err != nil {
			return nil, err
		}
	}

	rec, err := o.registry.Create(ctx, &domain.Record{
		SourceReference:     source,
		OutputDirectory:     outputDir,
		FormatSelector:      strings.TrimSpace(req.FormatSelector),
		CredentialReference: credential,
	})
	if err != nil {
		o.logger.Error("Failed to create job",
			slog.String("source", source),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%w: create job: %v", domain.ErrInternal, err)
	}

	o.metrics.JobSubmitted()
	o.publish(domain.EventJobCreated, rec)

	if err := o.pool.Submit(rec.ID); err != nil {
		// lost the race with Stop; fail now rather than leave it for the next start
		o.logger.Warn("Pool rejected job",
			slog.String("job_id", rec.ID),
			slog.Any("error", err),
		)
		failed, uerr := o.registry.Update(ctx, rec.ID, func(r *domain.Record) error {
			return r.MarkFailed(domain.ErrorKindInterrupted, "service is shutting down", o.now())
		})
		if uerr != nil {
			o.logger.Error("Failed to record rejected job",
				slog.String("job_id", rec.ID),
				slog.Any("error", uerr),
			)
			return nil, fmt.Errorf("%w: job %s was not queued: %v", domain.ErrInternal, rec.ID, uerr)
		}
		o.publish(domain.EventJobFailed, failed)
		return failed, nil
	}

	o.logger.Info("Job submitted",
		slog.String("job_id", rec.ID),
		slog.String("source", source),
		slog.String("output_dir", outputDir),
	)
	return rec, nil
}

// GetStatus returns a snapshot of one job
func (o *Orchestrator) GetStatus(ctx context.Context, id string) (*domain.Record, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	return o.registry.Get(ctx, id)
}

// ListJobs returns a snapshot of all jobs in submission order
func (o *Orchestrator) ListJobs(ctx context.Context) ([]*domain.Record, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	return o.registry.List(ctx), nil
}

func (o *Orchestrator) ready() error {
	if !o.started.Load() {
		return domain.ErrNotStarted
	}
	return nil
}

// resolveOutputDir maps a relative or absolute directory into the download root
func (o *Orchestrator) resolveOutputDir(dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return o.downloadRoot, nil
	}

	path := dir
	if !filepath.IsAbs(path) {
		path = filepath.Join(o.downloadRoot, path)
	}
	path = filepath.Clean(path)

	if !filename.Within(o.downloadRoot, path) {
		return "", fmt.Errorf("%w: output directory %q is outside the download root", domain.ErrInvalidRequest, dir)
	}
	return path, nil
}

func (o *Orchestrator) publish(t domain.EventType, rec *domain.Record) {
	_ = o.publisher.Publish(context.Background(), domain.NewEvent(t, rec))
}
