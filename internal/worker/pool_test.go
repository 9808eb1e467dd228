package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/fetch-service/internal/domain"
	"github.com/cuongbtq/fetch-service/internal/registry"
	"github.com/cuongbtq/fetch-service/internal/storage"
	"github.com/cuongbtq/fetch-service/shared/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

type fakeFetcher struct {
	mu         sync.Mutex
	running    int
	maxRunning int
	order      []string
	fn         func(ctx context.Context, req domain.FetchRequest) (*domain.Result, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, req domain.FetchRequest) (*domain.Result, error) {
	f.mu.Lock()
	f.running++
	if f.running > f.maxRunning {
		f.maxRunning = f.running
	}
	f.order = append(f.order, req.SourceReference)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
	}()

	if f.fn != nil {
		return f.fn(ctx, req)
	}
	return writeResult(req)
}

func (f *fakeFetcher) snapshot() (int, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxRunning, append([]string(nil), f.order...)
}

func writeResult(req domain.FetchRequest) (*domain.Result, error) {
	path := filepath.Join(req.OutputDirectory, req.JobID+".mp4")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		return nil, err
	}
	return &domain.Result{FilePath: path, FileName: filepath.Base(path), SizeBytes: 4}, nil
}

type fixture struct {
	reg     *registry.Registry
	pool    *Pool
	fetcher *fakeFetcher
	outDir  string
}

func newFixture(t *testing.T, concurrency int, fn func(ctx context.Context, req domain.FetchRequest) (*domain.Result, error)) *fixture {
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

	f := &fixture{
		reg:     registry.New(store, logger),
		fetcher: &fakeFetcher{fn: fn},
		outDir:  t.TempDir(),
	}
	f.pool = NewPool(&Config{
		Logger:      logger,
		Jobs:        f.reg,
		Fetcher:     f.fetcher,
		Concurrency: concurrency,
	})
	return f
}

func (f *fixture) submit(t *testing.T, source string) string {
	t.Helper()
	rec, err := f.reg.Create(context.Background(), &domain.Record{
		SourceReference: source,
		OutputDirectory: f.outDir,
	})
	require.NoError(t, err)
	require.NoError(t, f.pool.Submit(rec.ID))
	return rec.ID
}

func (f *fixture) status(t *testing.T, id string) domain.Status {
	t.Helper()
	rec, err := f.reg.Get(context.Background(), id)
	if err != nil {
		return ""
	}
	return rec.Status
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.pool.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = f.pool.Stop(ctx)
	})
}

func TestPool_CompletesJob(t *testing.T) {
	f := newFixture(t, 2, nil)
	f.start(t)

	id := f.submit(t, "https://example.com/a")

	require.Eventually(t, func() bool { return f.status(t, id) == domain.StatusCompleted }, waitFor, 10*time.Millisecond)

	rec, err := f.reg.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, rec.Result)
	assert.FileExists(t, rec.Result.FilePath)
	assert.Empty(t, rec.Error)
}

func TestPool_NeverExceedsConcurrency(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, 2, func(ctx context.Context, req domain.FetchRequest) (*domain.Result, error) {
		<-release
		return writeResult(req)
	})
	f.start(t)

	ids := make([]string, 6)
	for i := range ids {
		ids[i] = f.submit(t, "src")
	}

	require.Eventually(t, func() bool { return f.reg.CountByStatus(domain.StatusRunning) == 2 }, waitFor, 10*time.Millisecond)
	for i := 0; i < 10; i++ {
		assert.LessOrEqual(t, f.reg.CountByStatus(domain.StatusRunning), 2)
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 4, f.reg.CountByStatus(domain.StatusPending))

	close(release)
	require.Eventually(t, func() bool { return f.reg.CountByStatus(domain.StatusCompleted) == len(ids) }, waitFor, 10*time.Millisecond)

	maxRunning, _ := f.fetcher.snapshot()
	assert.Equal(t, 2, maxRunning)
}

func TestPool_SingleWorkerRunsInSubmissionOrder(t *testing.T) {
	releaseA := make(chan struct{})
	f := newFixture(t, 1, func(ctx context.Context, req domain.FetchRequest) (*domain.Result, error) {
		if req.SourceReference == "a" {
			<-releaseA
		}
		return writeResult(req)
	})
	f.start(t)

	a := f.submit(t, "a")
	b := f.submit(t, "b")

	require.Eventually(t, func() bool { return f.status(t, a) == domain.StatusRunning }, waitFor, 10*time.Millisecond)
	assert.Equal(t, domain.StatusPending, f.status(t, b))

	close(releaseA)
	require.Eventually(t, func() bool { return f.status(t, b) == domain.StatusCompleted }, waitFor, 10*time.Millisecond)
	assert.Equal(t, domain.StatusCompleted, f.status(t, a))

	_, order := f.fetcher.snapshot()
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestPool_FailureIsIsolated(t *testing.T) {
	f := newFixture(t, 2, func(ctx context.Context, req domain.FetchRequest) (*domain.Result, error) {
		if req.SourceReference == "bad" {
			return nil, domain.NewBackendError(domain.ErrorKindAuthRequired, "sign in to confirm your age", nil)
		}
		return writeResult(req)
	})
	f.start(t)

	bad := f.submit(t, "bad")
	good := f.submit(t, "good")

	require.Eventually(t, func() bool {
		return f.status(t, bad) == domain.StatusFailed && f.status(t, good) == domain.StatusCompleted
	}, waitFor, 10*time.Millisecond)

	rec, err := f.reg.Get(context.Background(), bad)
	require.NoError(t, err)
	assert.Equal(t, domain.ErrorKindAuthRequired, rec.ErrorKind)
	assert.Equal(t, "sign in to confirm your age", rec.Error)
	assert.Nil(t, rec.Result)
}

func TestPool_RecoversFromBackendPanic(t *testing.T) {
	f := newFixture(t, 1, func(ctx context.Context, req domain.FetchRequest) (*domain.Result, error) {
		if req.SourceReference == "boom" {
			panic("nil map write")
		}
		return writeResult(req)
	})
	f.start(t)

	boom := f.submit(t, "boom")
	after := f.submit(t, "after")

	require.Eventually(t, func() bool { return f.status(t, after) == domain.StatusCompleted }, waitFor, 10*time.Millisecond)

	rec, err := f.reg.Get(context.Background(), boom)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, rec.Status)
	assert.Equal(t, domain.ErrorKindInternal, rec.ErrorKind)
	assert.Contains(t, rec.Error, "nil map write")
}

func TestPool_NilResultIsAFailure(t *testing.T) {
	f := newFixture(t, 1, func(ctx context.Context, req domain.FetchRequest) (*domain.Result, error) {
		return nil, nil
	})
	f.start(t)

	id := f.submit(t, "x")
	require.Eventually(t, func() bool { return f.status(t, id) == domain.StatusFailed }, waitFor, 10*time.Millisecond)
}

func TestPool_DeletedWhileRunningRemovesFile(t *testing.T) {
	started := make(chan string, 1)
	release := make(chan struct{})
	f := newFixture(t, 1, func(ctx context.Context, req domain.FetchRequest) (*domain.Result, error) {
		res, err := writeResult(req)
		started <- res.FilePath
		<-release
		return res, err
	})
	f.start(t)

	id := f.submit(t, "x")
	path := <-started

	_, err := f.reg.Delete(context.Background(), id)
	require.NoError(t, err)
	close(release)

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return errors.Is(err, os.ErrNotExist)
	}, waitFor, 10*time.Millisecond)

	_, err = f.reg.Get(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPool_DeletedWhileRunningKeepsFileOutsideOutputDir(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "precious.txt")
	require.NoError(t, os.WriteFile(outside, []byte("keep"), 0o644))
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	f := newFixture(t, 1, func(ctx context.Context, req domain.FetchRequest) (*domain.Result, error) {
		if req.SourceReference != "stray" {
			return writeResult(req)
		}
		started <- struct{}{}
		<-release
		return &domain.Result{FilePath: outside, FileName: "precious.txt"}, nil
	})
	f.start(t)

	id := f.submit(t, "stray")
	<-started
	_, err := f.reg.Delete(context.Background(), id)
	require.NoError(t, err)
	close(release)

	// single worker: once the next job completes the stray one has been handled
	next := f.submit(t, "y")
	require.Eventually(t, func() bool { return f.status(t, next) == domain.StatusCompleted }, waitFor, 10*time.Millisecond)

	assert.FileExists(t, outside)
}

func TestPool_DeletedBeforeStartIsSkipped(t *testing.T) {
	f := newFixture(t, 1, nil)

	id := f.submit(t, "x")
	_, err := f.reg.Delete(context.Background(), id)
	require.NoError(t, err)

	f.start(t)
	next := f.submit(t, "y")
	require.Eventually(t, func() bool { return f.status(t, next) == domain.StatusCompleted }, waitFor, 10*time.Millisecond)

	_, order := f.fetcher.snapshot()
	assert.Equal(t, []string{"y"}, order)
}

func TestPool_SubmitAfterStop(t *testing.T) {
	f := newFixture(t, 1, nil)
	require.NoError(t, f.pool.Start(context.Background()))
	require.NoError(t, f.pool.Stop(context.Background()))

	assert.ErrorIs(t, f.pool.Submit("any"), ErrPoolClosed)
	assert.ErrorIs(t, f.pool.Start(context.Background()), ErrPoolClosed)
	assert.NoError(t, f.pool.Stop(context.Background()))
}

func TestPool_StopTimeoutLeavesJobRunning(t *testing.T) {
	f := newFixture(t, 1, func(ctx context.Context, req domain.FetchRequest) (*domain.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, f.pool.Start(context.Background()))

	id := f.submit(t, "slow")
	require.Eventually(t, func() bool { return f.status(t, id) == domain.StatusRunning }, waitFor, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.pool.Stop(ctx), context.DeadlineExceeded)

	// left for startup reconciliation
	assert.Equal(t, domain.StatusRunning, f.status(t, id))
}

func TestPool_JobTimeout(t *testing.T) {
	f := newFixture(t, 1, func(ctx context.Context, req domain.FetchRequest) (*domain.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	f.pool.jobTimeout = 20 * time.Millisecond
	f.start(t)

	id := f.submit(t, "slow")
	require.Eventually(t, func() bool { return f.status(t, id) == domain.StatusFailed }, waitFor, 10*time.Millisecond)

	rec, err := f.reg.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.ErrorKindInterrupted, rec.ErrorKind)
	assert.Contains(t, rec.Error, "timed out")
}

func TestPool_Stats(t *testing.T) {
	f := newFixture(t, 3, nil)
	require.NoError(t, f.pool.Submit("queued-before-start"))

	stats := f.pool.Stats()
	assert.Equal(t, 3, stats.Size)
	assert.Equal(t, 1, stats.QueueDepth)
	assert.Equal(t, 0, stats.Busy)
}
