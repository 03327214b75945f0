package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LinkingMx/Law-sub002/model"
)

// PgExecutionStore is a PostgreSQL-backed ExecutionStore using pgx/v5.
type PgExecutionStore struct {
	pool *pgxpool.Pool
}

// NewPgExecutionStore creates a new PostgreSQL execution store.
func NewPgExecutionStore(pool *pgxpool.Pool) *PgExecutionStore {
	return &PgExecutionStore{pool: pool}
}

const executionColumns = `id, workflow_id, workflow_version, target_model, target_id,
	status, current_step_order, context_data, step_results,
	initiator, started_at, completed_at, created_at, updated_at, version`

// CreateExecution inserts a new workflow execution.
func (s *PgExecutionStore) CreateExecution(ctx context.Context, exec model.WorkflowExecution) error {
	contextJSON, resultsJSON, err := marshalExecutionJSON(exec)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_executions (
			id, workflow_id, workflow_version, target_model, target_id,
			status, current_step_order, context_data, step_results,
			initiator, started_at, completed_at, created_at, updated_at, version
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, $14, $15
		)`,
		exec.ID, exec.WorkflowID, exec.WorkflowVersion, exec.TargetModel, exec.TargetID,
		exec.Status, exec.CurrentStepOrder, contextJSON, resultsJSON,
		exec.Initiator, exec.StartedAt, exec.CompletedAt, exec.CreatedAt, exec.UpdatedAt, exec.Version,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *PgExecutionStore) GetExecution(ctx context.Context, id string) (model.WorkflowExecution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM workflow_executions WHERE id = $1`, id)

	exec, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkflowExecution{}, model.NewNotFoundError(
			fmt.Sprintf("execution %q not found", id),
		)
	}
	if err != nil {
		return model.WorkflowExecution{}, fmt.Errorf("query execution: %w", err)
	}
	return exec, nil
}

// UpdateExecution persists an updated execution with optimistic locking.
func (s *PgExecutionStore) UpdateExecution(ctx context.Context, exec model.WorkflowExecution) error {
	contextJSON, resultsJSON, err := marshalExecutionJSON(exec)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_executions SET
			status = $1,
			current_step_order = $2,
			context_data = $3,
			step_results = $4,
			completed_at = $5,
			version = $6,
			updated_at = $7
		WHERE id = $8 AND version = $9`,
		exec.Status, exec.CurrentStepOrder, contextJSON, resultsJSON,
		exec.CompletedAt, exec.Version+1, time.Now().UTC(),
		exec.ID, exec.Version,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("execution %q version conflict (expected %d)", exec.ID, exec.Version),
		)
	}
	return nil
}

// ListExecutions returns executions matching the filters, newest first, with
// the total count before pagination.
func (s *PgExecutionStore) ListExecutions(ctx context.Context, filters model.ExecutionFilters) ([]model.WorkflowExecution, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	argIdx := 1

	addFilter := func(clause string, value any) {
		where += fmt.Sprintf(" AND %s = $%d", clause, argIdx)
		args = append(args, value)
		argIdx++
	}
	if filters.WorkflowID != "" {
		addFilter("workflow_id", filters.WorkflowID)
	}
	if filters.Status != "" {
		addFilter("status", filters.Status)
	}
	if filters.TargetModel != "" {
		addFilter("target_model", filters.TargetModel)
	}
	if filters.TargetID != "" {
		addFilter("target_id", filters.TargetID)
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM workflow_executions"+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count executions: %w", err)
	}

	page, pageSize := normalizePage(filters.Page, filters.PageSize)
	query := `SELECT ` + executionColumns + ` FROM workflow_executions` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, pageSize, (page-1)*pageSize)

	execs, err := s.queryExecutions(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return execs, total, nil
}

// FindActiveByTarget returns non-terminal executions for a target record.
func (s *PgExecutionStore) FindActiveByTarget(ctx context.Context, targetModel, targetID string) ([]model.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + `
	          FROM workflow_executions
	          WHERE target_model = $1 AND target_id = $2
	            AND status IN ('pending', 'in_progress')
	          ORDER BY created_at ASC`
	return s.queryExecutions(ctx, query, targetModel, targetID)
}

const stepColumns = `id, execution_id, step_id, step_order, step_type, status,
	assigned_to, completed_by, started_at, completed_at, due_at,
	overdue_flagged_at, comments, notifications_sent,
	created_at, updated_at, version`

// CreateStepExecution inserts a new step execution.
func (s *PgExecutionStore) CreateStepExecution(ctx context.Context, step model.StepExecution) error {
	sentJSON, err := json.Marshal(step.NotificationsSent)
	if err != nil {
		return fmt.Errorf("marshal dispatch log: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO step_executions (
			id, execution_id, step_id, step_order, step_type, status,
			assigned_to, completed_by, started_at, completed_at, due_at,
			overdue_flagged_at, comments, notifications_sent,
			created_at, updated_at, version
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14,
			$15, $16, $17
		)`,
		step.ID, step.ExecutionID, step.StepID, step.StepOrder, step.StepType, step.Status,
		step.AssignedTo, step.CompletedBy, step.StartedAt, step.CompletedAt, step.DueAt,
		step.OverdueFlaggedAt, step.Comments, sentJSON,
		step.CreatedAt, step.UpdatedAt, step.Version,
	)
	if err != nil {
		return fmt.Errorf("insert step execution: %w", err)
	}
	return nil
}

// GetStepExecution retrieves a step execution by ID.
func (s *PgExecutionStore) GetStepExecution(ctx context.Context, id string) (model.StepExecution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM step_executions WHERE id = $1`, id)

	step, err := scanStepExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.StepExecution{}, model.NewNotFoundError(
			fmt.Sprintf("step execution %q not found", id),
		)
	}
	if err != nil {
		return model.StepExecution{}, fmt.Errorf("query step execution: %w", err)
	}
	return step, nil
}

// UpdateStepExecution persists an updated step execution with optimistic
// locking.
func (s *PgExecutionStore) UpdateStepExecution(ctx context.Context, step model.StepExecution) error {
	sentJSON, err := json.Marshal(step.NotificationsSent)
	if err != nil {
		return fmt.Errorf("marshal dispatch log: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE step_executions SET
			status = $1,
			assigned_to = $2,
			completed_by = $3,
			started_at = $4,
			completed_at = $5,
			due_at = $6,
			overdue_flagged_at = $7,
			comments = $8,
			notifications_sent = $9,
			version = $10,
			updated_at = $11
		WHERE id = $12 AND version = $13`,
		step.Status, step.AssignedTo, step.CompletedBy,
		step.StartedAt, step.CompletedAt, step.DueAt,
		step.OverdueFlaggedAt, step.Comments, sentJSON,
		step.Version+1, time.Now().UTC(),
		step.ID, step.Version,
	)
	if err != nil {
		return fmt.Errorf("update step execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("step execution %q version conflict (expected %d)", step.ID, step.Version),
		)
	}
	return nil
}

// ListStepExecutions returns the steps of an execution ordered by step order.
func (s *PgExecutionStore) ListStepExecutions(ctx context.Context, executionID string) ([]model.StepExecution, error) {
	query := `SELECT ` + stepColumns + `
	          FROM step_executions
	          WHERE execution_id = $1
	          ORDER BY step_order ASC`
	return s.querySteps(ctx, query, executionID)
}

// FindDueStepExecutions returns non-terminal step executions due at or
// before the cutoff.
func (s *PgExecutionStore) FindDueStepExecutions(ctx context.Context, cutoff time.Time) ([]model.StepExecution, error) {
	query := `SELECT ` + stepColumns + `
	          FROM step_executions
	          WHERE status IN ('pending', 'in_progress')
	            AND due_at IS NOT NULL AND due_at <= $1
	          ORDER BY due_at ASC`
	return s.querySteps(ctx, query, cutoff)
}

// FindOpenStepsByAssignee returns in-progress steps assigned to the user,
// oldest first.
func (s *PgExecutionStore) FindOpenStepsByAssignee(ctx context.Context, assignee string) ([]model.StepExecution, error) {
	query := `SELECT ` + stepColumns + `
	          FROM step_executions
	          WHERE status = 'in_progress' AND assigned_to = $1
	          ORDER BY created_at ASC`
	return s.querySteps(ctx, query, assignee)
}

// AppendEvent adds an entry to the audit trail.
func (s *PgExecutionStore) AppendEvent(ctx context.Context, event model.ExecutionEvent) error {
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO execution_events (
			id, execution_id, step_id, event, actor_id, data, comment, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.ExecutionID, event.StepID, event.Event,
		event.ActorID, dataJSON, event.Comment, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert execution event: %w", err)
	}
	return nil
}

// GetEvents retrieves the audit trail ordered by timestamp.
func (s *PgExecutionStore) GetEvents(ctx context.Context, executionID string) ([]model.ExecutionEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, execution_id, step_id, event, actor_id, data, comment, created_at
		FROM execution_events
		WHERE execution_id = $1
		ORDER BY created_at ASC`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query execution events: %w", err)
	}
	defer rows.Close()

	var events []model.ExecutionEvent
	for rows.Next() {
		var evt model.ExecutionEvent
		var dataJSON []byte
		if err := rows.Scan(
			&evt.ID, &evt.ExecutionID, &evt.StepID, &evt.Event,
			&evt.ActorID, &dataJSON, &evt.Comment, &evt.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan execution event: %w", err)
		}
		if dataJSON != nil {
			_ = json.Unmarshal(dataJSON, &evt.Data)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// HealthCheck pings the database.
func (s *PgExecutionStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// queryExecutions executes a query and returns workflow executions.
func (s *PgExecutionStore) queryExecutions(ctx context.Context, query string, args ...any) ([]model.WorkflowExecution, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var execs []model.WorkflowExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// querySteps executes a query and returns step executions.
func (s *PgExecutionStore) querySteps(ctx context.Context, query string, args ...any) ([]model.StepExecution, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query step executions: %w", err)
	}
	defer rows.Close()

	var steps []model.StepExecution
	for rows.Next() {
		step, err := scanStepExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step execution: %w", err)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func scanExecution(row pgx.Row) (model.WorkflowExecution, error) {
	var exec model.WorkflowExecution
	var contextJSON, resultsJSON []byte

	err := row.Scan(
		&exec.ID, &exec.WorkflowID, &exec.WorkflowVersion, &exec.TargetModel, &exec.TargetID,
		&exec.Status, &exec.CurrentStepOrder, &contextJSON, &resultsJSON,
		&exec.Initiator, &exec.StartedAt, &exec.CompletedAt, &exec.CreatedAt, &exec.UpdatedAt, &exec.Version,
	)
	if err != nil {
		return model.WorkflowExecution{}, err
	}
	if contextJSON != nil {
		if err := json.Unmarshal(contextJSON, &exec.ContextData); err != nil {
			return model.WorkflowExecution{}, fmt.Errorf("unmarshal context data: %w", err)
		}
	}
	if resultsJSON != nil {
		if err := json.Unmarshal(resultsJSON, &exec.StepResults); err != nil {
			return model.WorkflowExecution{}, fmt.Errorf("unmarshal step results: %w", err)
		}
	}
	return exec, nil
}

func scanStepExecution(row pgx.Row) (model.StepExecution, error) {
	var step model.StepExecution
	var sentJSON []byte

	err := row.Scan(
		&step.ID, &step.ExecutionID, &step.StepID, &step.StepOrder, &step.StepType, &step.Status,
		&step.AssignedTo, &step.CompletedBy, &step.StartedAt, &step.CompletedAt, &step.DueAt,
		&step.OverdueFlaggedAt, &step.Comments, &sentJSON,
		&step.CreatedAt, &step.UpdatedAt, &step.Version,
	)
	if err != nil {
		return model.StepExecution{}, err
	}
	if sentJSON != nil {
		_ = json.Unmarshal(sentJSON, &step.NotificationsSent)
	}
	return step, nil
}

func marshalExecutionJSON(exec model.WorkflowExecution) (contextJSON, resultsJSON []byte, err error) {
	contextJSON, err = json.Marshal(exec.ContextData)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal context data: %w", err)
	}
	resultsJSON, err = json.Marshal(exec.StepResults)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal step results: %w", err)
	}
	return contextJSON, resultsJSON, nil
}
