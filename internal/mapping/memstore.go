package mapping

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"pimbridge/internal/errs"
)

// MemStore is an in-memory Store. Safe for concurrent use.
type MemStore struct {
	mu sync.RWMutex

	nextAttrID  int64
	nextValueID int64

	attrs      map[int64]AttributeMapping
	attrByName map[string]int64

	values     map[int64]ValueMapping
	valueByKey map[ValueKey]int64
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		attrs:      map[int64]AttributeMapping{},
		attrByName: map[string]int64{},
		values:     map[int64]ValueMapping{},
		valueByKey: map[ValueKey]int64{},
	}
}

var _ Store = (*MemStore)(nil)

func (s *MemStore) GetAttributeMapping(_ context.Context, originAttribute string) (AttributeMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.attrByName[originAttribute]
	if !ok {
		return AttributeMapping{}, fmt.Errorf("attribute mapping %q: %w", originAttribute, errs.ErrNotFound)
	}
	return s.attrs[id], nil
}

func (s *MemStore) UpsertAttributeMapping(_ context.Context, m AttributeMapping) (AttributeMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.attrByName[m.OriginAttribute]; ok {
		m.ID = id
		m.CreatedAt = s.attrs[id].CreatedAt
	} else {
		s.nextAttrID++
		m.ID = s.nextAttrID
		m.CreatedAt = m.UpdatedAt
		s.attrByName[m.OriginAttribute] = m.ID
	}
	s.attrs[m.ID] = m
	return m, nil
}

func (s *MemStore) DeleteAttributeMapping(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.attrs[id]
	if !ok {
		return fmt.Errorf("attribute mapping id=%d: %w", id, errs.ErrNotFound)
	}
	delete(s.attrs, id)
	delete(s.attrByName, m.OriginAttribute)
	return nil
}

func (s *MemStore) ListAttributeMappings(_ context.Context, q Query) (AttributePage, error) {
	q = q.Normalize()

	s.mu.RLock()
	items := make([]AttributeMapping, 0, len(s.attrs))
	for _, m := range s.attrs {
		if matchesSearch(q.Search, m.OriginAttribute, m.Code(), m.Label()) {
			items = append(items, m)
		}
	}
	s.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].OriginAttribute != items[j].OriginAttribute {
			return items[i].OriginAttribute < items[j].OriginAttribute
		}
		return items[i].ID < items[j].ID
	})

	total := len(items)
	return AttributePage{
		Items:   pageOf(items, q.Offset(), q.Limit()),
		Total:   total,
		Page:    q.Page,
		PerPage: q.PerPage,
	}, nil
}

func (s *MemStore) GetValueMapping(_ context.Context, key ValueKey) (ValueMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.valueByKey[key]
	if !ok {
		return ValueMapping{}, fmt.Errorf("value mapping %q/%q/%q: %w", key.Attribute, key.Value, key.UOM, errs.ErrNotFound)
	}
	return s.values[id], nil
}

func (s *MemStore) UpsertValueMapping(_ context.Context, m ValueMapping) (ValueMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := m.Key()
	if id, ok := s.valueByKey[key]; ok {
		m.ID = id
		m.CreatedAt = s.values[id].CreatedAt
	} else {
		s.nextValueID++
		m.ID = s.nextValueID
		m.CreatedAt = m.UpdatedAt
		s.valueByKey[key] = m.ID
	}
	s.values[m.ID] = m
	return m, nil
}

func (s *MemStore) DeleteValueMapping(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.values[id]
	if !ok {
		return fmt.Errorf("value mapping id=%d: %w", id, errs.ErrNotFound)
	}
	delete(s.values, id)
	delete(s.valueByKey, m.Key())
	return nil
}

func (s *MemStore) ListValueMappings(_ context.Context, q Query) (ValuePage, error) {
	q = q.Normalize()

	s.mu.RLock()
	items := make([]ValueMapping, 0, len(s.values))
	for _, m := range s.values {
		if q.OriginAttribute != "" && m.OriginAttribute != q.OriginAttribute {
			continue
		}
		if matchesSearch(q.Search, m.OriginAttribute, m.OriginValue, m.Code(), m.Label()) {
			items = append(items, m)
		}
	}
	s.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.OriginAttribute != b.OriginAttribute {
			return a.OriginAttribute < b.OriginAttribute
		}
		if a.OriginValue != b.OriginValue {
			return a.OriginValue < b.OriginValue
		}
		if a.OriginUOM != b.OriginUOM {
			return a.OriginUOM < b.OriginUOM
		}
		return a.ID < b.ID
	})

	total := len(items)
	return ValuePage{
		Items:   pageOf(items, q.Offset(), q.Limit()),
		Total:   total,
		Page:    q.Page,
		PerPage: q.PerPage,
	}, nil
}

func (s *MemStore) AllMappings(_ context.Context) ([]AttributeMapping, []ValueMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	attrs := make([]AttributeMapping, 0, len(s.attrs))
	for _, m := range s.attrs {
		attrs = append(attrs, m)
	}
	values := make([]ValueMapping, 0, len(s.values))
	for _, m := range s.values {
		values = append(values, m)
	}
	return attrs, values, nil
}

// matchesSearch reports whether any field contains search, case-insensitively.
// An empty search matches everything.
func matchesSearch(search string, fields ...string) bool {
	if search == "" {
		return true
	}
	needle := strings.ToLower(search)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

func pageOf[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
