package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/LinkingMx/Law-sub002/model"
)

// MemoryExecutionStore is an in-memory ExecutionStore for testing and
// single-node setups.
type MemoryExecutionStore struct {
	mu         sync.RWMutex
	executions map[string]model.WorkflowExecution // key: execution ID
	steps      map[string]model.StepExecution     // key: step execution ID
	events     map[string][]model.ExecutionEvent  // key: execution ID
}

// NewMemoryExecutionStore creates a new in-memory execution store.
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{
		executions: make(map[string]model.WorkflowExecution),
		steps:      make(map[string]model.StepExecution),
		events:     make(map[string][]model.ExecutionEvent),
	}
}

// CreateExecution persists a new workflow execution.
func (s *MemoryExecutionStore) CreateExecution(_ context.Context, exec model.WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[exec.ID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("execution %q already exists", exec.ID),
		)
	}
	s.executions[exec.ID] = exec
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *MemoryExecutionStore) GetExecution(_ context.Context, id string) (model.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, exists := s.executions[id]
	if !exists {
		return model.WorkflowExecution{}, model.NewNotFoundError(
			fmt.Sprintf("execution %q not found", id),
		)
	}
	return exec, nil
}

// UpdateExecution persists an updated execution with optimistic locking.
func (s *MemoryExecutionStore) UpdateExecution(_ context.Context, exec model.WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.executions[exec.ID]
	if !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("execution %q not found", exec.ID),
		)
	}
	if existing.Version != exec.Version {
		return model.NewConflictError(
			fmt.Sprintf("execution %q version conflict (expected %d, got %d)", exec.ID, exec.Version, existing.Version),
		)
	}

	exec.Version++
	exec.UpdatedAt = time.Now().UTC()
	s.executions[exec.ID] = exec
	return nil
}

// ListExecutions returns executions matching the filters, newest first.
func (s *MemoryExecutionStore) ListExecutions(_ context.Context, filters model.ExecutionFilters) ([]model.WorkflowExecution, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WorkflowExecution
	for _, exec := range s.executions {
		if filters.WorkflowID != "" && exec.WorkflowID != filters.WorkflowID {
			continue
		}
		if filters.Status != "" && exec.Status != filters.Status {
			continue
		}
		if filters.TargetModel != "" && exec.TargetModel != filters.TargetModel {
			continue
		}
		if filters.TargetID != "" && exec.TargetID != filters.TargetID {
			continue
		}
		result = append(result, exec)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	total := len(result)
	page, pageSize := normalizePage(filters.Page, filters.PageSize)
	offset := (page - 1) * pageSize
	if offset >= len(result) {
		return []model.WorkflowExecution{}, total, nil
	}
	result = result[offset:]
	if pageSize < len(result) {
		result = result[:pageSize]
	}
	return result, total, nil
}

// FindActiveByTarget returns non-terminal executions for a target record.
func (s *MemoryExecutionStore) FindActiveByTarget(_ context.Context, targetModel, targetID string) ([]model.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WorkflowExecution
	for _, exec := range s.executions {
		if exec.TargetModel != targetModel || exec.TargetID != targetID {
			continue
		}
		if exec.IsTerminal() {
			continue
		}
		result = append(result, exec)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// CreateStepExecution persists a new step execution.
func (s *MemoryExecutionStore) CreateStepExecution(_ context.Context, step model.StepExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.steps[step.ID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("step execution %q already exists", step.ID),
		)
	}
	s.steps[step.ID] = step
	return nil
}

// GetStepExecution retrieves a step execution by ID.
func (s *MemoryExecutionStore) GetStepExecution(_ context.Context, id string) (model.StepExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	step, exists := s.steps[id]
	if !exists {
		return model.StepExecution{}, model.NewNotFoundError(
			fmt.Sprintf("step execution %q not found", id),
		)
	}
	return step, nil
}

// UpdateStepExecution persists an updated step execution with optimistic
// locking.
func (s *MemoryExecutionStore) UpdateStepExecution(_ context.Context, step model.StepExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.steps[step.ID]
	if !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("step execution %q not found", step.ID),
		)
	}
	if existing.Version != step.Version {
		return model.NewConflictError(
			fmt.Sprintf("step execution %q version conflict (expected %d, got %d)", step.ID, step.Version, existing.Version),
		)
	}

	step.Version++
	step.UpdatedAt = time.Now().UTC()
	s.steps[step.ID] = step
	return nil
}

// ListStepExecutions returns the steps of an execution ordered by step order.
func (s *MemoryExecutionStore) ListStepExecutions(_ context.Context, executionID string) ([]model.StepExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.StepExecution
	for _, step := range s.steps {
		if step.ExecutionID == executionID {
			result = append(result, step)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StepOrder < result[j].StepOrder
	})
	return result, nil
}

// FindDueStepExecutions returns non-terminal step executions due at or
// before the cutoff.
func (s *MemoryExecutionStore) FindDueStepExecutions(_ context.Context, cutoff time.Time) ([]model.StepExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.StepExecution
	for _, step := range s.steps {
		if step.IsTerminal() || step.DueAt == nil {
			continue
		}
		if step.DueAt.After(cutoff) {
			continue
		}
		result = append(result, step)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DueAt.Before(*result[j].DueAt)
	})
	return result, nil
}

// FindOpenStepsByAssignee returns in-progress steps assigned to the user,
// oldest first.
func (s *MemoryExecutionStore) FindOpenStepsByAssignee(_ context.Context, assignee string) ([]model.StepExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.StepExecution
	for _, step := range s.steps {
		if step.Status != model.StepStatusInProgress || step.AssignedTo != assignee {
			continue
		}
		result = append(result, step)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// AppendEvent adds an entry to the audit trail.
func (s *MemoryExecutionStore) AppendEvent(_ context.Context, event model.ExecutionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[event.ExecutionID] = append(s.events[event.ExecutionID], event)
	return nil
}

// GetEvents retrieves the audit trail ordered by timestamp.
func (s *MemoryExecutionStore) GetEvents(_ context.Context, executionID string) ([]model.ExecutionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[executionID]
	result := make([]model.ExecutionEvent, len(events))
	copy(result, events)
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryExecutionStore) HealthCheck(_ context.Context) error {
	return nil
}

// normalizePage applies list pagination defaults.
func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	return page, pageSize
}
