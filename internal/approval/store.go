// Package approval tracks the approval state of documentation records and
// enforces the fixed transition table.
package approval

import (
	"context"
	"time"

	"github.com/LinkingMx/Law-sub002/model"
)

// Record is the current approval state of one documentation record.
type Record struct {
	RecordID  string              `json:"record_id"`
	State     model.ApprovalState `json:"state"`
	UpdatedBy string              `json:"updated_by,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`

	// Version increments on every successful transition.
	Version int `json:"version"`
}

// Transition is one entry in a record's approval history.
type Transition struct {
	ID        string              `json:"id"`
	RecordID  string              `json:"record_id"`
	FromState model.ApprovalState `json:"from_state"`
	ToState   model.ApprovalState `json:"to_state"`
	ActorID   string              `json:"actor_id"`
	Comment   string              `json:"comment,omitempty"`
	At        time.Time           `json:"at"`
}

// Store persists approval records and their transition history.
type Store interface {
	// Get retrieves the approval record for a documentation record.
	// Returns NOT_FOUND if no transition has ever been applied.
	Get(ctx context.Context, recordID string) (Record, error)

	// Create persists a new approval record. Returns CONFLICT if one
	// already exists.
	Create(ctx context.Context, rec Record) error

	// Update persists an updated record with optimistic locking. The
	// version must match the stored version; returns CONFLICT otherwise.
	Update(ctx context.Context, rec Record) error

	// AppendTransition adds an entry to a record's history.
	AppendTransition(ctx context.Context, tr Transition) error

	// GetTransitions returns a record's history ordered by time.
	GetTransitions(ctx context.Context, recordID string) ([]Transition, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error
}
