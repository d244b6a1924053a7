package catalog

import (
	"context"
	"sort"
	"sync"

	"pimbridge/internal/similarity"
)

// MemStore is an in-memory Store and Vocabulary. Records are listed in
// insertion order.
type MemStore struct {
	mu      sync.RWMutex
	order   []string
	records map[string]Record
	options map[string][]similarity.Option
}

func NewMemStore() *MemStore {
	return &MemStore{
		records: map[string]Record{},
		options: map[string][]similarity.Option{},
	}
}

var (
	_ Store      = (*MemStore)(nil)
	_ Vocabulary = (*MemStore)(nil)
)

// Put inserts or replaces a record.
func (s *MemStore) Put(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.ID]; !ok {
		s.order = append(s.order, r.ID)
	}
	s.records[r.ID] = r
}

// SetOptions replaces the destination options of attributeCode.
func (s *MemStore) SetOptions(attributeCode string, opts []similarity.Option) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options[attributeCode] = append([]similarity.Option(nil), opts...)
}

func (s *MemStore) CountRecords(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order), nil
}

func (s *MemStore) ListRecordIDs(_ context.Context, offset, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.order) || limit <= 0 {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.order) {
		end = len(s.order)
	}
	return append([]string(nil), s.order[offset:end]...), nil
}

func (s *MemStore) FetchRecords(ctx context.Context, ids []string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.records[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListOptions returns the options of attributeCode sorted by code. An empty
// attributeCode returns every known option.
func (s *MemStore) ListOptions(_ context.Context, attributeCode string) ([]similarity.Option, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []similarity.Option
	if attributeCode != "" {
		out = append(out, s.options[attributeCode]...)
	} else {
		for _, opts := range s.options {
			out = append(out, opts...)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}
