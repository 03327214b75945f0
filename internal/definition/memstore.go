package definition

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
	mu        sync.RWMutex
	workflows map[string]model.WorkflowDefinition
}

// NewMemoryStore creates a new in-memory definition store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]model.WorkflowDefinition),
	}
}

// Create persists a new workflow definition.
func (s *MemoryStore) Create(_ context.Context, wf model.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[wf.ID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("workflow %q already exists", wf.ID),
		)
	}

	s.workflows[wf.ID] = cloneDefinition(wf)
	return nil
}

// Get retrieves a workflow definition by ID.
func (s *MemoryStore) Get(_ context.Context, id string) (model.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, exists := s.workflows[id]
	if !exists {
		return model.WorkflowDefinition{}, model.NewNotFoundError(
			fmt.Sprintf("workflow %q not found", id),
		)
	}
	return cloneDefinition(wf), nil
}

// Update replaces a workflow definition and its steps.
func (s *MemoryStore) Update(_ context.Context, wf model.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[wf.ID]; !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("workflow %q not found", wf.ID),
		)
	}

	wf.UpdatedAt = time.Now().UTC()
	s.workflows[wf.ID] = cloneDefinition(wf)
	return nil
}

// Delete removes a workflow definition.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[id]; !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("workflow %q not found", id),
		)
	}
	delete(s.workflows, id)
	return nil
}

// List returns workflow definitions matching the filters, newest first.
func (s *MemoryStore) List(_ context.Context, filters model.WorkflowFilters) ([]model.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WorkflowDefinition
	for _, wf := range s.workflows {
		if filters.TargetModel != "" && wf.TargetModel != filters.TargetModel {
			continue
		}
		if filters.ActiveOnly && !wf.IsActive {
			continue
		}
		result = append(result, cloneDefinition(wf))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// ListActiveForModel returns active definitions targeting the given model.
func (s *MemoryStore) ListActiveForModel(ctx context.Context, targetModel string) ([]model.WorkflowDefinition, error) {
	return s.List(ctx, model.WorkflowFilters{TargetModel: targetModel, ActiveOnly: true})
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryStore) HealthCheck(_ context.Context) error {
	return nil
}

// Len returns the number of stored definitions. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workflows)
}

// cloneDefinition deep-copies the step slice so callers cannot mutate stored
// state.
func cloneDefinition(wf model.WorkflowDefinition) model.WorkflowDefinition {
	steps := make([]model.StepDefinition, len(wf.Steps))
	copy(steps, wf.Steps)
	wf.Steps = steps
	return wf
}
