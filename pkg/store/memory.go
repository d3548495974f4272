package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"ionbridge/pkg/message"
)

// MemoryStore is an in-process Store backed by a map, guarded by a
// single mutex the way wal.WAL guards its own entry index. Suitable for
// tests and single-process deployments that don't need the record to
// survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Store(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.records[rec.ID] = rec
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) UpdateState(ctx context.Context, id string, state message.State, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.State = state
	rec.Error = errText
	rec.UpdatedAt = time.Now().UTC()
	s.records[id] = rec
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, filter Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		if matches(rec, filter) {
			matched = append(matched, rec)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []Record{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (s *MemoryStore) Count(ctx context.Context, filter Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, rec := range s.records {
		if matches(rec, filter) {
			n++
		}
	}
	return n, nil
}

func matches(rec Record, f Filter) bool {
	if f.HostName != "" && rec.HostName != f.HostName {
		return false
	}
	if f.MessageType != "" && rec.MessageType != f.MessageType {
		return false
	}
	if f.State != nil && rec.State != *f.State {
		return false
	}
	if f.CorrelationID != "" && rec.CorrelationID != f.CorrelationID {
		return false
	}
	if f.Source != "" && rec.Source != f.Source {
		return false
	}
	if f.Target != "" && rec.Target != f.Target {
		return false
	}
	if f.CreatedAfter != nil && rec.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && rec.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	return true
}
