// Package engine runs workflow executions: trigger intake, step dispatch,
// approvals, delays, webhooks, and the due-step scan.
package engine

import (
	"context"
	"time"

	"github.com/LinkingMx/Law-sub002/model"
)

// ExecutionStore persists workflow executions, their step executions, and
// the audit trail.
type ExecutionStore interface {
	// CreateExecution persists a new workflow execution.
	CreateExecution(ctx context.Context, exec model.WorkflowExecution) error

	// GetExecution retrieves an execution by ID. Returns NOT_FOUND if it
	// does not exist.
	GetExecution(ctx context.Context, id string) (model.WorkflowExecution, error)

	// UpdateExecution persists an updated execution with optimistic locking.
	// The version must match the stored version. Returns CONFLICT if the
	// version has changed.
	UpdateExecution(ctx context.Context, exec model.WorkflowExecution) error

	// ListExecutions returns executions matching the filters, newest first,
	// with the total count before pagination.
	ListExecutions(ctx context.Context, filters model.ExecutionFilters) ([]model.WorkflowExecution, int, error)

	// FindActiveByTarget returns non-terminal executions bound to the given
	// target record.
	FindActiveByTarget(ctx context.Context, targetModel, targetID string) ([]model.WorkflowExecution, error)

	// CreateStepExecution persists a new step execution.
	CreateStepExecution(ctx context.Context, step model.StepExecution) error

	// GetStepExecution retrieves a step execution by ID.
	GetStepExecution(ctx context.Context, id string) (model.StepExecution, error)

	// UpdateStepExecution persists an updated step execution with optimistic
	// locking. Returns CONFLICT if the version has changed; the losing
	// caller must treat the step as already handled.
	UpdateStepExecution(ctx context.Context, step model.StepExecution) error

	// ListStepExecutions returns the steps of an execution ordered by step
	// order.
	ListStepExecutions(ctx context.Context, executionID string) ([]model.StepExecution, error)

	// FindDueStepExecutions returns non-terminal step executions whose due
	// time is at or before the cutoff.
	FindDueStepExecutions(ctx context.Context, cutoff time.Time) ([]model.StepExecution, error)

	// FindOpenStepsByAssignee returns in-progress step executions assigned
	// to the given user, oldest first.
	FindOpenStepsByAssignee(ctx context.Context, assignee string) ([]model.StepExecution, error)

	// AppendEvent adds an entry to an execution's audit trail.
	AppendEvent(ctx context.Context, event model.ExecutionEvent) error

	// GetEvents retrieves the audit trail of an execution ordered by
	// timestamp.
	GetEvents(ctx context.Context, executionID string) ([]model.ExecutionEvent, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error
}
