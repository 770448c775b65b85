package memory

import (
	"context"
	"sync"
)

// InMemoryStore is a simple in-process record store for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]Record)}
}

func (s *InMemoryStore) Get(_ context.Context, key string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return Record{}, false, nil
	}
	return cloneRecord(rec), true, nil
}

func (s *InMemoryStore) Merge(_ context.Context, key string, u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		rec = EmptyRecord(key)
	}
	rec.Identity = key
	s.records[key] = u.apply(rec)
	return nil
}

// Seed stores rec as-is. Used to simulate fields written by other processes.
func (s *InMemoryStore) Seed(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Identity] = cloneRecord(rec)
}

func (s *InMemoryStore) Backend() string { return "memory" }

func (s *InMemoryStore) Close() error { return nil }

func cloneRecord(rec Record) Record {
	rec.OwnedItems = append([]string{}, rec.OwnedItems...)
	rec.History = append([]Entry{}, rec.History...)
	return rec
}
