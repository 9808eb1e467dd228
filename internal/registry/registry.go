// Package registry keeps an in-memory index of job records in front of the
// persistent store. The store is always written first; the index only ever
// reflects committed state.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/cuongbtq/fetch-service/internal/domain"
)

// Store is the durable side of the registry
type Store interface {
	Create(ctx context.Context, in *domain.Record) (*domain.Record, error)
	List(ctx context.Context) ([]*domain.Record, error)
	Update(ctx context.Context, id string, mutate func(*domain.Record) error) (*domain.Record, error)
	Delete(ctx context.Context, id string) (*domain.Record, error)
}

// Registry serves reads from memory and serializes writes per job id
type Registry struct {
	store  Store
	logger *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*domain.Record

	locks *keyedMutex
}

// New creates an empty registry over store
func New(store Store, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger,
		jobs:   make(map[string]*domain.Record),
		locks:  newKeyedMutex(),
	}
}

// Load replaces the index with the current contents of the store
func (r *Registry) Load(ctx context.Context) (int, error) {
	recs, err := r.store.List(ctx)
	if err != nil {
		return 0, err
	}

	jobs := make(map[string]*domain.Record, len(recs))
	for _, rec := range recs {
		jobs[rec.ID] = rec
	}

	r.mu.Lock()
	r.jobs = jobs
	r.mu.Unlock()

	r.logger.Info("Job registry loaded",
		slog.Int("jobs", len(jobs)),
	)
	return len(jobs), nil
}

// Create persists a new record and indexes it
func (r *Registry) Create(ctx context.Context, in *domain.Record) (*domain.Record, error) {
	rec, err := r.store.Create(ctx, in)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.jobs[rec.ID] = rec
	r.mu.Unlock()

	return rec.Clone(), nil
}

// Get returns a snapshot of one record
func (r *Registry) Get(_ context.Context, id string) (*domain.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec.Clone(), nil
}

// List returns snapshots of every record in insertion order
func (r *Registry) List(_ context.Context) []*domain.Record {
	r.mu.RLock()
	out := make([]*domain.Record, 0, len(r.jobs))
	for _, rec := range r.jobs {
		out = append(out, rec.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Seq < out[j].Seq
	})
	return out
}

// Update applies mutate under the job's lock. The store commits first; on
// domain.ErrNotFound the job was deleted and is dropped from the index too.
func (r *Registry) Update(ctx context.Context, id string, mutate func(*domain.Record) error) (*domain.Record, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	rec, err := r.store.Update(ctx, id, mutate)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.forget(id)
		}
		return nil, err
	}

	r.mu.Lock()
	r.jobs[id] = rec
	r.mu.Unlock()

	return rec.Clone(), nil
}

// Delete removes a job from the store and the index and returns its last state
func (r *Registry) Delete(ctx context.Context, id string) (*domain.Record, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	rec, err := r.store.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.forget(id)
		}
		return nil, err
	}

	r.forget(id)
	return rec, nil
}

// Len returns the number of indexed jobs
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// CountByStatus returns the number of indexed jobs in status s
func (r *Registry) CountByStatus(s domain.Status) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, rec := range r.jobs {
		if rec.Status == s {
			n++
		}
	}
	return n
}

func (r *Registry) forget(id string) {
	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()
}
