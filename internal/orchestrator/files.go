package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cuongbtq/fetch-service/internal/domain"
	"github.com/cuongbtq/fetch-service/internal/filename"
)

// DeleteResult reports what a delete removed
type DeleteResult struct {
	ID          string        `json:"job_id"`
	Status      domain.Status `json:"status"`
	FileRemoved bool          `json:"file_removed"`
	FileError   string        `json:"file_error,omitempty"`
}

// ResultFile is an open handle on a completed job's output. The caller closes File.
type ResultFile struct {
	File    *os.File
	Name    string
	Size    int64
	ModTime time.Time
}

// DeleteJob removes the record and then its file. A file that cannot be
// removed is reported in the result; the record is gone either way.
func (o *Orchestrator) DeleteJob(ctx context.Context, id string) (*DeleteResult, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}

	rec, err := o.registry.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		o.logger.Error("Failed to delete job",
			slog.String("job_id", id),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%w: delete job: %v", domain.ErrInternal, err)
	}

	res := &DeleteResult{ID: rec.ID, Status: rec.Status}
	if path, ok := o.managedFile(rec); !ok {
		res.FileError = fmt.Sprintf("file %s is outside the download root, left in place", path)
		o.logger.Warn("Refusing to remove file outside the download root",
			slog.String("job_id", rec.ID),
			slog.String("path", path),
		)
	} else if path != "" {
		switch err := os.Remove(path); {
		case err == nil:
			res.FileRemoved = true
		case errors.Is(err, os.ErrNotExist):
		default:
			res.FileError = err.Error()
			o.logger.Warn("Failed to remove job file",
				slog.String("job_id", rec.ID),
				slog.String("path", path),
				slog.Any("error", err),
			)
		}
	}

	o.metrics.JobDeleted()
	o.publish(domain.EventJobDeleted, rec)

	o.logger.Info("Job deleted",
		slog.String("job_id", rec.ID),
		slog.String("status", string(rec.Status)),
		slog.Bool("file_removed", res.FileRemoved),
	)
	return res, nil
}

// DeleteAllJobs deletes every job and returns how many were removed
func (o *Orchestrator) DeleteAllJobs(ctx context.Context) (int, error) {
	if err := o.ready(); err != nil {
		return 0, err
	}

	var errs []error
	count := 0
	for _, rec := range o.registry.List(ctx) {
		if _, err := o.DeleteJob(ctx, rec.ID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		count++
	}
	return count, errors.Join(errs...)
}

// FetchResultFile opens the output of a completed job
func (o *Orchestrator) FetchResultFile(ctx context.Context, id string) (*ResultFile, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}

	rec, err := o.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != domain.StatusCompleted {
		return nil, fmt.Errorf("%w: job is %s", domain.ErrNotReady, rec.Status)
	}
	if rec.Result == nil || rec.Result.FilePath == "" {
		o.logger.Error("Completed job has no result file",
			slog.String("job_id", id),
		)
		return nil, fmt.Errorf("%w: job has no file", domain.ErrNotFound)
	}

	if _, ok := o.managedFile(rec); !ok {
		o.logger.Error("Result file is outside the download root",
			slog.String("job_id", id),
			slog.String("path", rec.Result.FilePath),
		)
		return nil, fmt.Errorf("%w: file for job %s is not available", domain.ErrNotFound, id)
	}

	f, err := os.Open(rec.Result.FilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			o.logger.Error("Result file missing on disk",
				slog.String("job_id", id),
				slog.String("path", rec.Result.FilePath),
			)
			return nil, fmt.Errorf("%w: file for job %s is missing", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: open result file: %v", domain.ErrInternal, err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat result file: %v", domain.ErrInternal, err)
	}

	name := rec.Result.FileName
	if name == "" {
		name = filepath.Base(rec.Result.FilePath)
	}
	return &ResultFile{
		File:    f,
		Name:    name,
		Size:    stat.Size(),
		ModTime: stat.ModTime(),
	}, nil
}

// managedFile returns the cleaned result path of rec and whether it lies under
// the download root. A record without a file reports ("", true).
func (o *Orchestrator) managedFile(rec *domain.Record) (string, bool) {
	if rec.Result == nil || rec.Result.FilePath == "" {
		return "", true
	}
	path := filepath.Clean(rec.Result.FilePath)
	return path, path != o.downloadRoot && filename.Within(o.downloadRoot, path)
}

// PruneTerminal deletes finished jobs whose last update is older than olderThan
func (o *Orchestrator) PruneTerminal(ctx context.Context, olderThan time.Duration) (int, error) {
	if err := o.ready(); err != nil {
		return 0, err
	}

	cutoff := o.now().Add(-olderThan)
	var errs []error
	pruned := 0
	for _, rec := range o.registry.List(ctx) {
		if !rec.Status.IsTerminal() || !rec.UpdatedAt.Before(cutoff) {
			continue
		}
		if _, err := o.DeleteJob(ctx, rec.ID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		pruned++
	}

	if pruned > 0 {
		o.logger.Info("Pruned finished jobs",
			slog.Int("count", pruned),
			slog.Duration("older_than", olderThan),
		)
	}
	return pruned, errors.Join(errs...)
}
