package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/fetch-service/internal/domain"
	"github.com/cuongbtq/fetch-service/internal/storage"
	"github.com/cuongbtq/fetch-service/shared/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, *storage.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	client, err := database.NewClient(&database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "jobs.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := storage.NewStore(context.Background(), client.GetDB(), logger)
	require.NoError(t, err)

	return New(store, logger), store
}

func TestRegistry_CreateIsReadableImmediately(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)

	rec, err := reg.Create(ctx, &domain.Record{SourceReference: "src", OutputDirectory: "/out"})
	require.NoError(t, err)

	got, err := reg.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)

	persisted, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, persisted.ID)
}

func TestRegistry_SnapshotsAreIsolated(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	rec, err := reg.Create(ctx, &domain.Record{SourceReference: "src", OutputDirectory: "/out"})
	require.NoError(t, err)

	snap, err := reg.Get(ctx, rec.ID)
	require.NoError(t, err)
	snap.Status = domain.StatusCompleted
	snap.Result = &domain.Result{FilePath: "/tmp/forged"}

	again, err := reg.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, again.Status)
	assert.Nil(t, again.Result)
}

func TestRegistry_ListOrder(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	var ids []string
	for i := 0; i < 10; i++ {
		rec, err := reg.Create(ctx, &domain.Record{SourceReference: "src", OutputDirectory: "/out"})
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	list := reg.List(ctx)
	require.Len(t, list, len(ids))
	for i := range ids {
		assert.Equal(t, ids[i], list[i].ID)
	}
}

func TestRegistry_ConcurrentClaimHasOneWinner(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	rec, err := reg.Create(ctx, &domain.Record{SourceReference: "src", OutputDirectory: "/out"})
	require.NoError(t, err)

	const contenders = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		losers  int
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Update(ctx, rec.ID, func(r *domain.Record) error {
				return r.MarkRunning(time.Now())
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
			} else if errors.Is(err, domain.ErrJobAlreadyClaimed) {
				losers++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, contenders-1, losers)
	assert.Equal(t, 0, reg.locks.size(), "per-job locks are released")
}

func TestRegistry_NoResurrectionAfterDelete(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)

	rec, err := reg.Create(ctx, &domain.Record{SourceReference: "src", OutputDirectory: "/out"})
	require.NoError(t, err)
	_, err = reg.Update(ctx, rec.ID, func(r *domain.Record) error { return r.MarkRunning(time.Now()) })
	require.NoError(t, err)

	_, err = reg.Delete(ctx, rec.ID)
	require.NoError(t, err)

	_, err = reg.Update(ctx, rec.ID, func(r *domain.Record) error {
		return r.MarkCompleted(&domain.Result{FilePath: "/out/x.mp4"}, time.Now())
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = reg.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_Load(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)

	for i := 0; i < 3; i++ {
		_, err := store.Create(ctx, &domain.Record{SourceReference: "src", OutputDirectory: "/out"})
		require.NoError(t, err)
	}
	assert.Equal(t, 0, reg.Len())

	n, err := reg.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, reg.CountByStatus(domain.StatusPending))
	assert.Equal(t, 0, reg.CountByStatus(domain.StatusRunning))
}
