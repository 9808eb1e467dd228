package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuongbtq/fetch-service/internal/domain"
	"github.com/cuongbtq/fetch-service/shared/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openStore(t *testing.T, path string) *Store {
	t.Helper()

	client, err := database.NewClient(&database.Config{Driver: database.DriverSQLite, Path: path}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewStore(context.Background(), client.GetDB(), testLogger())
	require.NoError(t, err)
	return store
}

func newTestStore(t *testing.T) *Store {
	return openStore(t, filepath.Join(t.TempDir(), "jobs.db"))
}

func TestStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	rec, err := store.Create(ctx, &domain.Record{
		SourceReference: "https://example.com/v/1",
		OutputDirectory: "/data/downloads",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, domain.StatusPending, rec.Status)
	assert.Equal(t, domain.DefaultFormatSelector, rec.FormatSelector)
	assert.Equal(t, rec.CreatedAt, rec.UpdatedAt)

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.SourceReference, got.SourceReference)
	assert.Equal(t, rec.OutputDirectory, got.OutputDirectory)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
	assert.Nil(t, got.Result)
}

func TestStore_GetUnknown(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_ListInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var ids []string
	for i := 0; i < 5; i++ {
		rec, err := store.Create(ctx, &domain.Record{SourceReference: "src", OutputDirectory: "/out"})
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 5)
	for i, rec := range list {
		assert.Equal(t, ids[i], rec.ID)
		if i > 0 {
			assert.Greater(t, rec.Seq, list[i-1].Seq)
		}
	}
}

func TestStore_UpdateRoundTripsResult(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	rec, err := store.Create(ctx, &domain.Record{SourceReference: "src", OutputDirectory: "/out"})
	require.NoError(t, err)

	_, err = store.Update(ctx, rec.ID, func(r *domain.Record) error {
		return r.MarkRunning(time.Now())
	})
	require.NoError(t, err)

	result := &domain.Result{FilePath: "/out/a-1234.mp4", Title: "a", SizeBytes: 42, DurationSeconds: 1.5}
	updated, err := store.Update(ctx, rec.ID, func(r *domain.Record) error {
		return r.MarkCompleted(result, time.Now())
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, updated.Status)

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, *result, *got.Result)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))
}

func TestStore_UpdateMutatorErrorRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	rec, err := store.Create(ctx, &domain.Record{SourceReference: "src", OutputDirectory: "/out"})
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = store.Update(ctx, rec.ID, func(r *domain.Record) error {
		r.Status = domain.StatusRunning
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
}

func TestStore_UpdateAfterDeleteIsRejected(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	rec, err := store.Create(ctx, &domain.Record{SourceReference: "src", OutputDirectory: "/out"})
	require.NoError(t, err)

	deleted, err := store.Delete(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, deleted.ID)

	_, err = store.Update(ctx, rec.ID, func(r *domain.Record) error {
		return r.MarkRunning(time.Now())
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.Delete(ctx, rec.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_ReconcileAfterRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")
	store := openStore(t, path)

	pending, err := store.Create(ctx, &domain.Record{SourceReference: "a", OutputDirectory: "/out"})
	require.NoError(t, err)
	running, err := store.Create(ctx, &domain.Record{SourceReference: "b", OutputDirectory: "/out"})
	require.NoError(t, err)
	done, err := store.Create(ctx, &domain.Record{SourceReference: "c", OutputDirectory: "/out"})
	require.NoError(t, err)

	_, err = store.Update(ctx, running.ID, func(r *domain.Record) error { return r.MarkRunning(time.Now()) })
	require.NoError(t, err)
	_, err = store.Update(ctx, done.ID, func(r *domain.Record) error { return r.MarkRunning(time.Now()) })
	require.NoError(t, err)
	_, err = store.Update(ctx, done.ID, func(r *domain.Record) error {
		return r.MarkCompleted(&domain.Result{FilePath: "/out/c.mp4"}, time.Now())
	})
	require.NoError(t, err)

	// a second store on the same file stands in for the restarted process
	restarted := openStore(t, path)
	reconciled, err := restarted.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, reconciled, 2)

	for _, id := range []string{pending.ID, running.ID} {
		got, err := restarted.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, got.Status)
		assert.Equal(t, domain.ErrorKindInterrupted, got.ErrorKind)
		assert.Equal(t, InterruptedMessage, got.Error)
		assert.Nil(t, got.Result)
	}

	got, err := restarted.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)

	next, err := restarted.Create(ctx, &domain.Record{SourceReference: "d", OutputDirectory: "/out"})
	require.NoError(t, err)
	assert.Greater(t, next.Seq, done.Seq, "sequence continues after reopen")

	again, err := restarted.Reconcile(ctx)
	require.NoError(t, err)
	assert.Len(t, again, 1, "only the freshly created job is still pending")
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	client, err := database.NewClient(&database.Config{Driver: database.DriverSQLite, Path: filepath.Join(t.TempDir(), "m.db")}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, Migrate(ctx, client.GetDB()))
	require.NoError(t, Migrate(ctx, client.GetDB()))

	var count int
	require.NoError(t, client.GetDB().Get(&count, `SELECT COUNT(*) FROM schema_migrations`))
	assert.Equal(t, 1, count)
}

func TestMigrationVersion(t *testing.T) {
	assert.Equal(t, 1, migrationVersion("001_create_jobs.sql"))
	assert.Equal(t, 12, migrationVersion("12.sql"))
	assert.Equal(t, 0, migrationVersion("init.sql"))
}
