package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pimbridge/internal/errs"
)

// FileStore keeps one JSON descriptor per job under Dir (<id>.json).
// Writes go to a temp file in the same directory and are renamed into place,
// so readers never see a torn descriptor. Descriptors are never removed.
type FileStore struct {
	Dir string

	mu  sync.Mutex
	now func() time.Time
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("jobs: empty jobs dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jobs: create %s: %w", dir, err)
	}
	return &FileStore{Dir: dir, now: time.Now}, nil
}

var _ Store = (*FileStore)(nil)

func (s *FileStore) path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("jobs: invalid job id %q: %w", id, errs.ErrNotFound)
	}
	return filepath.Join(s.Dir, id+".json"), nil
}

func (s *FileStore) Create(_ context.Context, j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.path(j.ID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); err == nil {
		return fmt.Errorf("jobs: job %s already exists: %w", j.ID, errs.ErrValidation)
	}
	return s.write(p, j)
}

func (s *FileStore) Get(_ context.Context, id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

func (s *FileStore) Update(_ context.Context, id string, fn func(*Job) error) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.read(id)
	if err != nil {
		return Job{}, err
	}
	if err := applyUpdate(&j, fn); err != nil {
		return j, err
	}
	p, _ := s.path(id)
	if err := s.write(p, j); err != nil {
		return Job{}, err
	}
	return j, nil
}

func (s *FileStore) Cancel(_ context.Context, id string) (Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.read(id)
	if err != nil {
		return Job{}, false, err
	}
	if !applyCancel(&j, s.clock()) {
		return j, false, nil
	}
	p, _ := s.path(id)
	if err := s.write(p, j); err != nil {
		return Job{}, false, err
	}
	return j, true, nil
}

func (s *FileStore) List(_ context.Context, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ents, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("jobs: list %s: %w", s.Dir, err)
	}
	out := make([]Job, 0, len(ents))
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		j, err := s.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			// Skip unreadable descriptors; they stay on disk for diagnostics.
			continue
		}
		out = append(out, j)
	}
	return newestFirst(out, limit), nil
}

func (s *FileStore) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func (s *FileStore) read(id string) (Job, error) {
	p, err := s.path(id)
	if err != nil {
		return Job{}, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Job{}, notFound(id)
	}
	if err != nil {
		return Job{}, fmt.Errorf("jobs: read %s: %w", p, err)
	}
	var j Job
	if err := json.Unmarshal(b, &j); err != nil {
		return Job{}, fmt.Errorf("jobs: decode %s: %w", p, err)
	}
	return j, nil
}

func (s *FileStore) write(p string, j Job) error {
	b, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("jobs: encode %s: %w", j.ID, err)
	}

	tmp, err := os.CreateTemp(s.Dir, ".job-*.tmp")
	if err != nil {
		return fmt.Errorf("jobs: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("jobs: write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("jobs: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("jobs: rename %s: %w", p, err)
	}
	return nil
}
