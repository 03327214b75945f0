package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/LinkingMx/Law-sub002/model"
)

func seedExecution(t *testing.T, store *MemoryExecutionStore, id, workflowID, status string, createdAt time.Time) model.WorkflowExecution {
	t.Helper()
	exec := model.WorkflowExecution{
		ID:          id,
		WorkflowID:  workflowID,
		TargetModel: "documentation",
		TargetID:    "doc-1",
		Status:      status,
		StartedAt:   createdAt,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
		Version:     1,
	}
	if err := store.CreateExecution(context.Background(), exec); err != nil {
		t.Fatalf("CreateExecution(%s) error = %v", id, err)
	}
	return exec
}

func TestMemoryExecutionStoreOptimisticLocking(t *testing.T) {
	store := NewMemoryExecutionStore()
	ctx := context.Background()
	exec := seedExecution(t, store, "ex-1", "wf-1", model.ExecutionStatusInProgress, time.Now().UTC())

	exec.Status = model.ExecutionStatusCompleted
	if err := store.UpdateExecution(ctx, exec); err != nil {
		t.Fatalf("UpdateExecution() error = %v", err)
	}

	got, _ := store.GetExecution(ctx, "ex-1")
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2 after update", got.Version)
	}

	// A writer holding the stale version loses.
	err := store.UpdateExecution(ctx, exec)
	if !model.IsCode(err, model.ErrConflict) {
		t.Fatalf("stale UpdateExecution() error = %v, want CONFLICT", err)
	}
}

func TestMemoryExecutionStoreCreateDuplicate(t *testing.T) {
	store := NewMemoryExecutionStore()
	exec := seedExecution(t, store, "ex-1", "wf-1", model.ExecutionStatusPending, time.Now().UTC())

	err := store.CreateExecution(context.Background(), exec)
	if !model.IsCode(err, model.ErrConflict) {
		t.Fatalf("duplicate CreateExecution() error = %v, want CONFLICT", err)
	}
}

func TestMemoryExecutionStoreListFiltersAndPaginates(t *testing.T) {
	store := NewMemoryExecutionStore()
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		status := model.ExecutionStatusInProgress
		if i%2 == 0 {
			status = model.ExecutionStatusCompleted
		}
		seedExecution(t, store, fmt.Sprintf("ex-%d", i), "wf-1", status, base.Add(time.Duration(i)*time.Minute))
	}

	got, total, err := store.ListExecutions(ctx, model.ExecutionFilters{Status: model.ExecutionStatusCompleted})
	if err != nil {
		t.Fatalf("ListExecutions() error = %v", err)
	}
	if total != 3 || len(got) != 3 {
		t.Fatalf("total = %d, len = %d, want 3 completed", total, len(got))
	}
	if got[0].ID != "ex-4" {
		t.Errorf("first = %s, want newest first", got[0].ID)
	}

	got, total, err = store.ListExecutions(ctx, model.ExecutionFilters{Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("ListExecutions(page 2) error = %v", err)
	}
	if total != 5 || len(got) != 2 {
		t.Fatalf("total = %d, len = %d, want 5 total and 2 on page", total, len(got))
	}
	if got[0].ID != "ex-2" {
		t.Errorf("page 2 first = %s, want ex-2", got[0].ID)
	}
}

func TestMemoryExecutionStoreFindActiveByTarget(t *testing.T) {
	store := NewMemoryExecutionStore()
	ctx := context.Background()
	base := time.Now().UTC()

	seedExecution(t, store, "ex-1", "wf-1", model.ExecutionStatusInProgress, base)
	seedExecution(t, store, "ex-2", "wf-2", model.ExecutionStatusCompleted, base.Add(time.Minute))
	seedExecution(t, store, "ex-3", "wf-2", model.ExecutionStatusPending, base.Add(2*time.Minute))

	got, err := store.FindActiveByTarget(ctx, "documentation", "doc-1")
	if err != nil {
		t.Fatalf("FindActiveByTarget() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d active executions, want 2", len(got))
	}
	if got[0].ID != "ex-1" || got[1].ID != "ex-3" {
		t.Errorf("order = %s, %s, want oldest first", got[0].ID, got[1].ID)
	}

	got, _ = store.FindActiveByTarget(ctx, "documentation", "doc-other")
	if len(got) != 0 {
		t.Errorf("got %d executions for unknown target, want 0", len(got))
	}
}

func TestMemoryExecutionStoreStepLifecycle(t *testing.T) {
	store := NewMemoryExecutionStore()
	ctx := context.Background()
	seedExecution(t, store, "ex-1", "wf-1", model.ExecutionStatusInProgress, time.Now().UTC())

	for _, order := range []int{2, 1} {
		se := model.StepExecution{
			ID:          fmt.Sprintf("se-%d", order),
			ExecutionID: "ex-1",
			StepOrder:   order,
			StepType:    model.StepTypeNotification,
			Status:      model.StepStatusPending,
			Version:     1,
		}
		if err := store.CreateStepExecution(ctx, se); err != nil {
			t.Fatalf("CreateStepExecution() error = %v", err)
		}
	}

	steps, err := store.ListStepExecutions(ctx, "ex-1")
	if err != nil {
		t.Fatalf("ListStepExecutions() error = %v", err)
	}
	if len(steps) != 2 || steps[0].StepOrder != 1 {
		t.Fatalf("steps = %+v, want two ordered by step order", steps)
	}

	se := steps[0]
	se.Status = model.StepStatusCompleted
	if err := store.UpdateStepExecution(ctx, se); err != nil {
		t.Fatalf("UpdateStepExecution() error = %v", err)
	}
	err = store.UpdateStepExecution(ctx, se)
	if !model.IsCode(err, model.ErrConflict) {
		t.Fatalf("stale UpdateStepExecution() error = %v, want CONFLICT", err)
	}
}

func TestMemoryExecutionStoreFindDue(t *testing.T) {
	store := NewMemoryExecutionStore()
	ctx := context.Background()
	seedExecution(t, store, "ex-1", "wf-1", model.ExecutionStatusInProgress, time.Now().UTC())

	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		id     string
		status string
		dueAt  *time.Time
	}{
		{"se-due", model.StepStatusInProgress, &past},
		{"se-future", model.StepStatusInProgress, &future},
		{"se-done", model.StepStatusCompleted, &past},
		{"se-nodue", model.StepStatusInProgress, nil},
	}
	for i, c := range cases {
		se := model.StepExecution{
			ID:          c.id,
			ExecutionID: "ex-1",
			StepOrder:   i + 1,
			StepType:    model.StepTypeApproval,
			Status:      c.status,
			DueAt:       c.dueAt,
			Version:     1,
		}
		if err := store.CreateStepExecution(ctx, se); err != nil {
			t.Fatalf("CreateStepExecution(%s) error = %v", c.id, err)
		}
	}

	due, err := store.FindDueStepExecutions(ctx, now)
	if err != nil {
		t.Fatalf("FindDueStepExecutions() error = %v", err)
	}
	if len(due) != 1 || due[0].ID != "se-due" {
		t.Fatalf("due = %+v, want only the overdue open step", due)
	}
}

func TestMemoryExecutionStoreEvents(t *testing.T) {
	store := NewMemoryExecutionStore()
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		err := store.AppendEvent(ctx, model.ExecutionEvent{
			ID:          fmt.Sprintf("ev-%d", i),
			ExecutionID: "ex-1",
			Event:       "execution_started",
			ActorID:     model.SystemActor,
			Timestamp:   base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}

	events, err := store.GetEvents(ctx, "ex-1")
	if err != nil {
		t.Fatalf("GetEvents() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Before(events[i-1].Timestamp) {
			t.Fatalf("events out of order at %d", i)
		}
	}
}
