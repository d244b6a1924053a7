package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pimbridge/internal/errs"
)

// Store persists job descriptors. Implementations must be safe for concurrent
// use by one owning worker plus any number of status readers and cancellers.
type Store interface {
	Create(ctx context.Context, j Job) error
	Get(ctx context.Context, id string) (Job, error)
	// Update applies fn to the stored job and persists the result atomically.
	// It returns ErrTerminal without calling fn when the job is terminal.
	Update(ctx context.Context, id string, fn func(*Job) error) (Job, error)
	// Cancel marks a non-terminal job CANCELLED. It reports whether the job
	// changed; cancelling a terminal job is a no-op.
	Cancel(ctx context.Context, id string) (Job, bool, error)
	// List returns up to limit jobs, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]Job, error)
}

func notFound(id string) error {
	return fmt.Errorf("jobs: job %s not found: %w", id, errs.ErrNotFound)
}

func applyUpdate(j *Job, fn func(*Job) error) error {
	if j.Status.Terminal() {
		return fmt.Errorf("jobs: update %s (%s): %w", j.ID, j.Status, ErrTerminal)
	}
	return fn(j)
}

func applyCancel(j *Job, now time.Time) bool {
	if j.Status.Terminal() {
		return false
	}
	j.Finish(StatusCancelled, now)
	return true
}

func newestFirst(js []Job, limit int) []Job {
	sort.Slice(js, func(a, b int) bool {
		if !js[a].CreatedAt.Equal(js[b].CreatedAt) {
			return js[a].CreatedAt.After(js[b].CreatedAt)
		}
		return js[a].ID < js[b].ID
	})
	if limit > 0 && len(js) > limit {
		js = js[:limit]
	}
	return js
}

// MemStore keeps descriptors in a map.
type MemStore struct {
	mu   sync.Mutex
	jobs map[string]Job
	now  func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{jobs: map[string]Job{}, now: time.Now}
}

var _ Store = (*MemStore)(nil)

func (s *MemStore) Create(_ context.Context, j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; ok {
		return fmt.Errorf("jobs: job %s already exists: %w", j.ID, errs.ErrValidation)
	}
	s.jobs[j.ID] = j
	return nil
}

func (s *MemStore) Get(_ context.Context, id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, notFound(id)
	}
	return j, nil
}

func (s *MemStore) Update(_ context.Context, id string, fn func(*Job) error) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, notFound(id)
	}
	if err := applyUpdate(&j, fn); err != nil {
		return j, err
	}
	s.jobs[id] = j
	return j, nil
}

func (s *MemStore) Cancel(_ context.Context, id string) (Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false, notFound(id)
	}
	changed := applyCancel(&j, s.now())
	s.jobs[id] = j
	return j, changed, nil
}

func (s *MemStore) List(_ context.Context, limit int) ([]Job, error) {
	s.mu.Lock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	s.mu.Unlock()
	return newestFirst(out, limit), nil
}
