package model

import (
	"math"
	"strconv"
	"time"
)

// Workflow execution status constants.
const (
	ExecutionStatusPending    = "pending"
	ExecutionStatusInProgress = "in_progress"
	ExecutionStatusCompleted  = "completed"
	ExecutionStatusFailed     = "failed"
	ExecutionStatusCancelled  = "cancelled"
)

// Step execution status constants.
const (
	StepStatusPending    = "pending"
	StepStatusInProgress = "in_progress"
	StepStatusCompleted  = "completed"
	StepStatusFailed     = "failed"
	StepStatusSkipped    = "skipped"
	StepStatusCancelled  = "cancelled"
)

// Initiator used when the engine acts on its own behalf.
const SystemActor = "system"

// ModelEvent is a lifecycle notification emitted by a persisted entity.
// Snapshot carries the notification-relevant fields at event time; Changed
// lists the field names modified by an update.
type ModelEvent struct {
	Model      string         `json:"model"`
	ID         string         `json:"id"`
	Event      string         `json:"event"`
	Snapshot   map[string]any `json:"snapshot,omitempty"`
	Changed    []string       `json:"changed,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// WasChanged reports whether the named field is in the event's changed set.
func (e *ModelEvent) WasChanged(field string) bool {
	for _, f := range e.Changed {
		if f == field {
			return true
		}
	}
	return false
}

// WorkflowExecution is one running instance of a workflow definition against
// a target model record.
type WorkflowExecution struct {
	ID              string `json:"id"`
	WorkflowID      string `json:"workflow_id"`
	WorkflowVersion int    `json:"workflow_version"`
	TargetModel     string `json:"target_model"`
	TargetID        string `json:"target_id"`
	Status          string `json:"status"`

	// CurrentStepOrder is the order of the step being dispatched or waited
	// on. It never decreases and never exceeds the highest active step
	// order plus one.
	CurrentStepOrder int `json:"current_step_order"`

	// ContextData is seeded from the workflow's global variables merged
	// with the triggering event snapshot.
	ContextData map[string]any `json:"context_data,omitempty"`

	// StepResults maps step order (as a decimal string) to the recorded
	// outcome of that step.
	StepResults map[string]StepResult `json:"step_results,omitempty"`

	Initiator   string     `json:"initiator"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Version     int        `json:"version"`
}

// IsTerminal reports whether the execution reached a terminal status.
func (e *WorkflowExecution) IsTerminal() bool {
	switch e.Status {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// RecordStepResult stores the outcome of a step keyed by its order.
func (e *WorkflowExecution) RecordStepResult(order int, result StepResult) {
	if e.StepResults == nil {
		e.StepResults = make(map[string]StepResult)
	}
	e.StepResults[strconv.Itoa(order)] = result
}

// StepResultFor returns the recorded outcome for a step order, if any.
func (e *WorkflowExecution) StepResultFor(order int) (StepResult, bool) {
	r, ok := e.StepResults[strconv.Itoa(order)]
	return r, ok
}

// StepResult is the recorded outcome of one step within an execution.
type StepResult struct {
	Status string         `json:"status"`
	Detail string         `json:"detail,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// StepExecution is one runtime instance of a step within an execution.
type StepExecution struct {
	ID          string `json:"id"`
	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	StepOrder   int    `json:"step_order"`
	StepType    string `json:"step_type"`
	Status      string `json:"status"`

	AssignedTo  string `json:"assigned_to,omitempty"`
	CompletedBy string `json:"completed_by,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`

	// OverdueFlaggedAt is set once, the first time the due scan sees the
	// step past its due time.
	OverdueFlaggedAt *time.Time `json:"overdue_flagged_at,omitempty"`

	Comments string `json:"comments,omitempty"`

	// NotificationsSent is the ordered log of dispatch attempts.
	NotificationsSent []DispatchRecord `json:"notifications_sent,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// IsTerminal reports whether the step execution reached a terminal status.
func (s *StepExecution) IsTerminal() bool {
	switch s.Status {
	case StepStatusCompleted, StepStatusFailed, StepStatusSkipped, StepStatusCancelled:
		return true
	}
	return false
}

// Succeeded reports whether the step reached a terminal success state.
// Skipped counts: a skipped step does not block the execution sequence.
func (s *StepExecution) Succeeded() bool {
	return s.Status == StepStatusCompleted || s.Status == StepStatusSkipped
}

// IsOverdue reports whether the step has a due time in the past while still
// pending or in progress.
func (s *StepExecution) IsOverdue(now time.Time) bool {
	if s.DueAt == nil {
		return false
	}
	if s.Status != StepStatusPending && s.Status != StepStatusInProgress {
		return false
	}
	return now.After(*s.DueAt)
}

// DispatchRecord is one entry in a step's notification dispatch log.
type DispatchRecord struct {
	Channel   string    `json:"channel"`
	Recipient string    `json:"recipient,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	At        time.Time `json:"at"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// ExecutionEvent records one entry in an execution's audit trail.
type ExecutionEvent struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	StepID      string         `json:"step_id,omitempty"`
	Event       string         `json:"event"`
	ActorID     string         `json:"actor_id"`
	Data        map[string]any `json:"data,omitempty"`
	Comment     string         `json:"comment,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// ExecutionFilters are optional filters for listing executions.
type ExecutionFilters struct {
	WorkflowID  string
	Status      string
	TargetModel string
	TargetID    string
	Page        int
	PageSize    int
}

// ExecutionDescriptor is the display representation of an execution: status,
// progress percentage, elapsed time, and per-step detail.
type ExecutionDescriptor struct {
	Execution WorkflowExecution `json:"execution"`
	Progress  int               `json:"progress"`
	Elapsed   string            `json:"elapsed"`
	Steps     []StepExecution   `json:"steps"`
}

// Progress computes the execution progress percentage:
// round(100 × completed active steps / total active steps). Steps that were
// skipped count as completed so that a finished execution always reads 100.
func Progress(totalActive int, steps []StepExecution) int {
	if totalActive <= 0 {
		return 0
	}
	done := 0
	for _, s := range steps {
		if s.Succeeded() {
			done++
		}
	}
	return int(math.Round(100 * float64(done) / float64(totalActive)))
}

// Elapsed returns the execution's running time: completion minus start for
// terminal executions, now minus start otherwise.
func (e *WorkflowExecution) Elapsed(now time.Time) time.Duration {
	end := now
	if e.CompletedAt != nil {
		end = *e.CompletedAt
	}
	if end.Before(e.StartedAt) {
		return 0
	}
	return end.Sub(e.StartedAt)
}
