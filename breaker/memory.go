package breaker

import (
	"context"
	"sync"
)

// MemoryStore keeps circuit records in process memory. Suitable for
// tests and single-process deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
	}
}

// Get retrieves the record for name; a missing name yields a zero record.
func (s *MemoryStore) Get(_ context.Context, name string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[name], nil
}

// Put stores the record for name. The write is a compare-and-set: a
// record read before a competing write lands is rejected with
// ErrStaleRecord.
func (s *MemoryStore) Put(_ context.Context, name string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Version != s.records[name].Version {
		return ErrStaleRecord
	}
	rec.Version++
	s.records[name] = rec
	return nil
}
