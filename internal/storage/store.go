package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/fetch-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// InterruptedMessage is recorded on jobs that were still active when the process stopped
const InterruptedMessage = "job interrupted: service restarted before the job finished"

const jobColumns = `id, seq, source_reference, output_directory, format_selector, credential_reference,
	status, result, error_message, error_kind, created_at, updated_at`

// jobRow is the on-disk shape of a domain.Record. Timestamps are Unix nanoseconds
// so both drivers scan them the same way.
type jobRow struct {
	ID                  string         `db:"id"`
	Seq                 int64          `db:"seq"`
	SourceReference     string         `db:"source_reference"`
	OutputDirectory     string         `db:"output_directory"`
	FormatSelector      string         `db:"format_selector"`
	CredentialReference string         `db:"credential_reference"`
	Status              string         `db:"status"`
	Result              sql.NullString `db:"result"`
	ErrorMessage        string         `db:"error_message"`
	ErrorKind           string         `db:"error_kind"`
	CreatedAt           int64          `db:"created_at"`
	UpdatedAt           int64          `db:"updated_at"`
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx
type queryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

// Store is the durable table of job records
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
	seq    atomic.Int64
	now    func() time.Time
}

// NewStore migrates the schema and prepares the insertion sequence
func NewStore(ctx context.Context, db *sqlx.DB, logger *slog.Logger) (*Store, error) {
	if err := Migrate(ctx, db); err != nil {
		return nil, err
	}

	s := &Store{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	var maxSeq sql.NullInt64
	if err := db.GetContext(ctx, &maxSeq, `SELECT MAX(seq) FROM jobs`); err != nil {
		return nil, fmt.Errorf("failed to read job sequence: %w", err)
	}
	s.seq.Store(maxSeq.Int64)

	return s, nil
}

// Create assigns an id and persists a new pending record
func (s *Store) Create(ctx context.Context, in *domain.Record) (*domain.Record, error) {
	now := s.now().UTC()
	rec := &domain.Record{
		ID:                  uuid.NewString(),
		Seq:                 s.seq.Add(1),
		SourceReference:     in.SourceReference,
		OutputDirectory:     in.OutputDirectory,
		FormatSelector:      in.FormatSelector,
		CredentialReference: in.CredentialReference,
		Status:              domain.StatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if rec.FormatSelector == "" {
		rec.FormatSelector = domain.DefaultFormatSelector
	}

	row, err := toRow(rec)
	if err != nil {
		return nil, err
	}

	query := s.db.Rebind(`
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = s.db.ExecContext(ctx, query,
		row.ID, row.Seq, row.SourceReference, row.OutputDirectory, row.FormatSelector,
		row.CredentialReference, row.Status, row.Result, row.ErrorMessage, row.ErrorKind,
		row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Debug("Job record created",
		slog.String("job_id", rec.ID),
		slog.Int64("seq", rec.Seq),
	)

	return rec, nil
}

// Get retrieves a job by its id
func (s *Store) Get(ctx context.Context, id string) (*domain.Record, error) {
	return getJob(ctx, s.db, id)
}

// List returns all jobs in insertion order
func (s *Store) List(ctx context.Context) ([]*domain.Record, error) {
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+jobColumns+` FROM jobs ORDER BY seq ASC`); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return toRecords(rows)
}

// Update loads a job, applies mutate and writes the mutable columns back in one transaction.
// It fails with domain.ErrNotFound when the job no longer exists, so a deleted job is never
// written again.
func (s *Store) Update(ctx context.Context, id string, mutate func(*domain.Record) error) (*domain.Record, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := getJob(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(rec); err != nil {
		return nil, err
	}
	if err := updateJob(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit job update: %w", err)
	}
	return rec, nil
}

// Delete removes a job and returns its last state
func (s *Store) Delete(ctx context.Context, id string) (*domain.Record, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := getJob(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM jobs WHERE id = ?`), id); err != nil {
		return nil, fmt.Errorf("failed to delete job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit job delete: %w", err)
	}
	return rec, nil
}

// Reconcile marks every pending or running job as failed. No worker survives a restart,
// so such jobs can never finish. It returns the records it changed.
func (s *Store) Reconcile(ctx context.Context) ([]*domain.Record, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var rows []jobRow
	query := tx.Rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE status IN (?, ?) ORDER BY seq ASC`)
	if err := tx.SelectContext(ctx, &rows, query, string(domain.StatusPending), string(domain.StatusRunning)); err != nil {
		return nil, fmt.Errorf("failed to select active jobs: %w", err)
	}
	recs, err := toRecords(rows)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for _, rec := range recs {
		if err := rec.MarkFailed(domain.ErrorKindInterrupted, InterruptedMessage, now); err != nil {
			return nil, err
		}
		if err := updateJob(ctx, tx, rec); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reconciliation: %w", err)
	}

	if len(recs) > 0 {
		s.logger.Warn("Reconciled interrupted jobs",
			slog.Int("count", len(recs)),
		)
	}
	return recs, nil
}

func getJob(ctx context.Context, q queryer, id string) (*domain.Record, error) {
	var row jobRow
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toRecord()
}

func updateJob(ctx context.Context, tx *sqlx.Tx, rec *domain.Record) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}

	query := tx.Rebind(`
		UPDATE jobs
		SET status = ?,
			result = ?,
			error_message = ?,
			error_kind = ?,
			updated_at = ?
		WHERE id = ?
	`)
	res, err := tx.ExecContext(ctx, query, row.Status, row.Result, row.ErrorMessage, row.ErrorKind, row.UpdatedAt, row.ID)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func toRow(rec *domain.Record) (*jobRow, error) {
	row := &jobRow{
		ID:                  rec.ID,
		Seq:                 rec.Seq,
		SourceReference:     rec.SourceReference,
		OutputDirectory:     rec.OutputDirectory,
		FormatSelector:      rec.FormatSelector,
		CredentialReference: rec.CredentialReference,
		Status:              string(rec.Status),
		ErrorMessage:        rec.Error,
		ErrorKind:           string(rec.ErrorKind),
		CreatedAt:           rec.CreatedAt.UnixNano(),
		UpdatedAt:           rec.UpdatedAt.UnixNano(),
	}
	if rec.Result != nil {
		data, err := json.Marshal(rec.Result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		row.Result = sql.NullString{String: string(data), Valid: true}
	}
	return row, nil
}

func (r *jobRow) toRecord() (*domain.Record, error) {
	rec := &domain.Record{
		ID:                  r.ID,
		Seq:                 r.Seq,
		SourceReference:     r.SourceReference,
		OutputDirectory:     r.OutputDirectory,
		FormatSelector:      r.FormatSelector,
		CredentialReference: r.CredentialReference,
		Status:              domain.Status(r.Status),
		Error:               r.ErrorMessage,
		ErrorKind:           domain.ErrorKind(r.ErrorKind),
		CreatedAt:           time.Unix(0, r.CreatedAt).UTC(),
		UpdatedAt:           time.Unix(0, r.UpdatedAt).UTC(),
	}
	if r.Result.Valid && r.Result.String != "" {
		var res domain.Result
		if err := json.Unmarshal([]byte(r.Result.String), &res); err != nil {
			return nil, fmt.Errorf("failed to parse result of job %s: %w", r.ID, err)
		}
		rec.Result = &res
	}
	return rec, nil
}

func toRecords(rows []jobRow) ([]*domain.Record, error) {
	recs := make([]*domain.Record, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
