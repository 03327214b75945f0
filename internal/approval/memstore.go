package approval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/LinkingMx/Law-sub002/model"
)

// MemoryStore is an in-memory Store for testing and single-node setups.
type MemoryStore struct {
	mu          sync.RWMutex
	records     map[string]Record       // key: record ID
	transitions map[string][]Transition // key: record ID
}

// NewMemoryStore creates a new in-memory approval store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:     make(map[string]Record),
		transitions: make(map[string][]Transition),
	}
}

// Get retrieves the approval record for a documentation record.
func (s *MemoryStore) Get(_ context.Context, recordID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[recordID]
	if !exists {
		return Record{}, model.NewNotFoundError(fmt.Sprintf("approval record %q not found", recordID))
	}
	return rec, nil
}

// Create persists a new approval record.
func (s *MemoryStore) Create(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.RecordID]; exists {
		return model.NewConflictError(fmt.Sprintf("approval record %q already exists", rec.RecordID))
	}
	s.records[rec.RecordID] = rec
	return nil
}

// Update persists an updated record with optimistic locking.
func (s *MemoryStore) Update(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.records[rec.RecordID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("approval record %q not found", rec.RecordID))
	}
	if existing.Version != rec.Version {
		return model.NewConflictError(
			fmt.Sprintf("approval record %q version conflict (expected %d, got %d)",
				rec.RecordID, rec.Version, existing.Version),
		)
	}

	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	s.records[rec.RecordID] = rec
	return nil
}

// AppendTransition adds an entry to a record's history.
func (s *MemoryStore) AppendTransition(_ context.Context, tr Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transitions[tr.RecordID] = append(s.transitions[tr.RecordID], tr)
	return nil
}

// GetTransitions returns a record's history ordered by time.
func (s *MemoryStore) GetTransitions(_ context.Context, recordID string) ([]Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.transitions[recordID]
	out := make([]Transition, len(history))
	copy(out, history)
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryStore) HealthCheck(_ context.Context) error { return nil }
