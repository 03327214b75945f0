// Package definition manages workflow definitions: persistence, validation,
// duplication, and pre-flight testing.
package definition

import (
	"context"

	"github.com/LinkingMx/Law-sub002/model"
)

// Store persists workflow definitions and their steps.
type Store interface {
	// Create persists a new workflow definition with its steps.
	Create(ctx context.Context, wf model.WorkflowDefinition) error

	// Get retrieves a workflow definition by ID, steps included.
	// Returns NOT_FOUND if it does not exist.
	Get(ctx context.Context, id string) (model.WorkflowDefinition, error)

	// Update replaces a workflow definition and its steps.
	Update(ctx context.Context, wf model.WorkflowDefinition) error

	// Delete removes a workflow definition and its steps.
	Delete(ctx context.Context, id string) error

	// List returns workflow definitions matching the filters, newest first.
	List(ctx context.Context, filters model.WorkflowFilters) ([]model.WorkflowDefinition, error)

	// ListActiveForModel returns the active definitions targeting the given
	// model. Used on the trigger hot path.
	ListActiveForModel(ctx context.Context, targetModel string) ([]model.WorkflowDefinition, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error
}
