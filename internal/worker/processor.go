package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/cuongbtq/fetch-service/internal/domain"
	"github.com/cuongbtq/fetch-service/internal/filename"
	"github.com/dustin/go-humanize"
)

// processJob claims a job, runs the backend and records the terminal state
func (p *Pool) processJob(ctx context.Context, workerName, id string) {
	// Step 1: Claim job (PENDING → RUNNING)
	rec, err := p.jobs.Update(ctx, id, func(r *domain.Record) error {
		return r.MarkRunning(p.now())
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			p.logger.Info("Job deleted before it started, skipping",
				slog.String("job_id", id),
			)
		case errors.Is(err, domain.ErrJobAlreadyClaimed):
			p.logger.Warn("Job already claimed, skipping",
				slog.String("job_id", id),
			)
		default:
			p.logger.Error("Failed to claim job",
				slog.String("job_id", id),
				slog.Any("error", err),
			)
		}
		return
	}

	p.metrics.SetBusyWorkers(int(p.busy.Add(1)))
	defer func() {
		p.metrics.SetBusyWorkers(int(p.busy.Add(-1)))
	}()

	p.logger.Info("Processing job",
		slog.String("job_id", id),
		slog.String("worker_name", workerName),
		slog.String("source", rec.SourceReference),
	)
	p.publish(domain.EventJobRunning, rec)

	// Step 2: Execute with optional timeout
	jobCtx := p.execCtx
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, p.jobTimeout)
		defer cancel()
	}

	started := time.Now()
	result, execErr := p.execute(jobCtx, rec)
	elapsed := time.Since(started)

	if p.execCtx.Err() != nil {
		// forced shutdown; the record stays running and is reconciled on next start
		p.logger.Warn("Job abandoned by shutdown",
			slog.String("job_id", id),
			slog.Duration("elapsed", elapsed),
		)
		p.removeFile(rec, result)
		return
	}

	if execErr != nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		execErr = domain.NewBackendError(domain.ErrorKindInterrupted,
			fmt.Sprintf("job timed out after %s", p.jobTimeout), execErr)
	}

	// Step 3: Record COMPLETED/FAILED
	writeCtx := context.WithoutCancel(ctx)
	var final *domain.Record
	if execErr != nil {
		kind, msg := domain.ClassifyError(execErr)
		p.logger.Error("Job execution failed",
			slog.String("job_id", id),
			slog.String("error_kind", string(kind)),
			slog.String("error", msg),
		)
		final, err = p.jobs.Update(writeCtx, id, func(r *domain.Record) error {
			return r.MarkFailed(kind, msg, p.now())
		})
	} else {
		final, err = p.jobs.Update(writeCtx, id, func(r *domain.Record) error {
			return r.MarkCompleted(result, p.now())
		})
	}

	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			p.logger.Warn("Job deleted while running, discarding result",
				slog.String("job_id", id),
			)
			p.removeFile(rec, result)
			return
		}
		p.logger.Error("Failed to record job outcome",
			slog.String("job_id", id),
			slog.Any("error", err),
		)
		return
	}

	p.metrics.JobFinished(final.Status, final.ErrorKind, elapsed)

	if final.Status == domain.StatusCompleted {
		p.logger.Info("Job completed successfully",
			slog.String("job_id", id),
			slog.String("file", final.Result.FilePath),
			slog.String("size", humanize.Bytes(uint64(max(final.Result.SizeBytes, 0)))),
			slog.Duration("elapsed", elapsed),
		)
		p.publish(domain.EventJobCompleted, final)
		return
	}
	p.publish(domain.EventJobFailed, final)
}

// execute calls the backend and converts a panic into an internal failure
func (p *Pool) execute(ctx context.Context, rec *domain.Record) (result *domain.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Backend panicked",
				slog.String("job_id", rec.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			result = nil
			err = domain.NewBackendError(domain.ErrorKindInternal, fmt.Sprintf("backend panic: %v", r), nil)
		}
	}()

	result, err = p.fetcher.Fetch(ctx, domain.FetchRequest{
		JobID:               rec.ID,
		SourceReference:     rec.SourceReference,
		OutputDirectory:     rec.OutputDirectory,
		FormatSelector:      rec.FormatSelector,
		CredentialReference: rec.CredentialReference,
	})
	if err == nil && result == nil {
		err = domain.NewBackendError(domain.ErrorKindInternal, "backend returned no result", nil)
	}
	return result, err
}

// removeFile deletes the output of a job whose record is gone. Paths outside
// the job's output directory are left alone.
func (p *Pool) removeFile(rec *domain.Record, result *domain.Result) {
	if result == nil || result.FilePath == "" {
		return
	}
	path := filepath.Clean(result.FilePath)
	if path == filepath.Clean(rec.OutputDirectory) || !filename.Within(rec.OutputDirectory, path) {
		p.logger.Warn("Orphaned file is outside the output directory, leaving it",
			slog.String("job_id", rec.ID),
			slog.String("path", path),
			slog.String("output_dir", rec.OutputDirectory),
		)
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("Failed to remove orphaned file",
			slog.String("job_id", rec.ID),
			slog.String("path", path),
			slog.Any("error", err),
		)
	}
}

func (p *Pool) publish(t domain.EventType, rec *domain.Record) {
	// publishers never block; errors only mean the event was dropped
	_ = p.publisher.Publish(context.Background(), domain.NewEvent(t, rec))
}
