package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/fetch-service/internal/domain"
	"github.com/cuongbtq/fetch-service/internal/events"
	"github.com/cuongbtq/fetch-service/internal/metrics"
)

// ErrPoolClosed is returned by Submit after Stop
var ErrPoolClosed = errors.New("worker pool is closed")

// Fetcher runs one job against the extraction backend
type Fetcher interface {
	Fetch(ctx context.Context, req domain.FetchRequest) (*domain.Result, error)
}

// JobUpdater applies state transitions; satisfied by *registry.Registry
type JobUpdater interface {
	Update(ctx context.Context, id string, mutate func(*domain.Record) error) (*domain.Record, error)
}

// Config holds worker pool configuration
type Config struct {
	Logger      *slog.Logger
	Jobs        JobUpdater
	Fetcher     Fetcher
	Publisher   events.Publisher
	Metrics     *metrics.Collector
	Concurrency int
	JobTimeout  time.Duration
	WorkerID    string
}

// Pool runs submitted jobs on a fixed number of goroutines
type Pool struct {
	logger      *slog.Logger
	jobs        JobUpdater
	fetcher     Fetcher
	publisher   events.Publisher
	metrics     *metrics.Collector
	concurrency int
	jobTimeout  time.Duration
	workerID    string
	now         func() time.Time

	queue  jobQueue
	notify chan struct{}
	busy   atomic.Int32

	mu         sync.Mutex
	started    bool
	stopped    bool
	stopChan   chan struct{}
	execCtx    context.Context
	execCancel context.CancelFunc
	wg         sync.WaitGroup
}

// Stats is a point-in-time view of the pool
type Stats struct {
	Size       int `json:"size"`
	Busy       int `json:"busy"`
	QueueDepth int `json:"queue_depth"`
}

// NewPool creates a new pool instance
func NewPool(cfg *Config) *Pool {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.Noop{}
	}
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker"
	}

	return &Pool{
		logger:      cfg.Logger,
		jobs:        cfg.Jobs,
		fetcher:     cfg.Fetcher,
		publisher:   publisher,
		metrics:     cfg.Metrics,
		concurrency: concurrency,
		jobTimeout:  cfg.JobTimeout,
		workerID:    workerID,
		now:         time.Now,
		notify:      make(chan struct{}, concurrency),
		stopChan:    make(chan struct{}),
	}
}

// Start spawns the workers. Backend calls run on a context detached from ctx so
// that only Stop decides when in-flight work is abandoned.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolClosed
	}
	if p.started {
		return nil
	}
	p.started = true
	p.execCtx, p.execCancel = context.WithCancel(context.WithoutCancel(ctx))

	p.logger.Info("Starting worker pool",
		slog.Int("concurrency", p.concurrency),
		slog.Duration("job_timeout", p.jobTimeout),
	)
	p.metrics.SetPoolSize(p.concurrency)
	p.spawnWorkerPool(ctx)

	// jobs submitted before Start are waiting without a wakeup
	if n := p.queue.len(); n > 0 {
		for i := 0; i < n && i < p.concurrency; i++ {
			p.signal()
		}
	}
	return nil
}

// Submit enqueues a job id and returns immediately
func (p *Pool) Submit(id string) error {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return ErrPoolClosed
	}

	depth := p.queue.push(id)
	p.metrics.SetQueueDepth(depth)
	p.signal()

	p.logger.Debug("Job queued",
		slog.String("job_id", id),
		slog.Int("queue_depth", depth),
	)
	return nil
}

// Stop stops taking queued work and waits for running jobs. If ctx expires first,
// running backend calls are canceled and their jobs are left for reconciliation.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.stopChan)
	started := p.started
	p.mu.Unlock()

	if !started {
		return nil
	}

	p.logger.Info("Stopping worker pool...",
		slog.Int("busy", int(p.busy.Load())),
		slog.Int("queued", p.queue.len()),
	)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.execCancel()
		p.logger.Info("Worker pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("Worker pool stop timed out, canceling running jobs")
		p.execCancel()
		<-done
		return ctx.Err()
	}
}

// Stats returns current pool usage
func (p *Pool) Stats() Stats {
	return Stats{
		Size:       p.concurrency,
		Busy:       int(p.busy.Load()),
		QueueDepth: p.queue.len(),
	}
}

func (p *Pool) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *Pool) stopping() bool {
	select {
	case <-p.stopChan:
		return true
	default:
		return false
	}
}
