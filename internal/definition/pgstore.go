package definition

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

// PgStore is a PostgreSQL-backed Store using pgx/v5. Definitions live in
// workflow_definitions; their ordered steps live in workflow_steps and are
// replaced wholesale on update.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL definition store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Create inserts a new workflow definition and its steps.
func (s *PgStore) Create(ctx context.Context, wf model.WorkflowDefinition) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	condJSON, varsJSON, eventsJSON, err := marshalDefinitionJSON(wf)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO workflow_definitions (
			id, name, description, version, target_model, is_active,
			trigger_events, trigger_conditions, global_variables,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		wf.ID, wf.Name, wf.Description, wf.Version, wf.TargetModel, wf.IsActive,
		eventsJSON, condJSON, varsJSON,
		wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow definition: %w", err)
	}

	if err := insertSteps(ctx, tx, wf.ID, wf.Steps); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Get retrieves a workflow definition by ID, steps included.
func (s *PgStore) Get(ctx context.Context, id string) (model.WorkflowDefinition, error) {
	var wf model.WorkflowDefinition
	var condJSON, varsJSON, eventsJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, name, description, version, target_model, is_active,
		       trigger_events, trigger_conditions, global_variables,
		       created_at, updated_at
		FROM workflow_definitions
		WHERE id = $1`,
		id,
	).Scan(
		&wf.ID, &wf.Name, &wf.Description, &wf.Version, &wf.TargetModel, &wf.IsActive,
		&eventsJSON, &condJSON, &varsJSON,
		&wf.CreatedAt, &wf.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkflowDefinition{}, model.NewNotFoundError(
			fmt.Sprintf("workflow %q not found", id),
		)
	}
	if err != nil {
		return model.WorkflowDefinition{}, fmt.Errorf("query workflow definition: %w", err)
	}

	if err := unmarshalDefinitionJSON(&wf, eventsJSON, condJSON, varsJSON); err != nil {
		return model.WorkflowDefinition{}, err
	}

	steps, err := s.querySteps(ctx, id)
	if err != nil {
		return model.WorkflowDefinition{}, err
	}
	wf.Steps = steps
	return wf, nil
}

// Update replaces a workflow definition and its steps.
func (s *PgStore) Update(ctx context.Context, wf model.WorkflowDefinition) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	condJSON, varsJSON, eventsJSON, err := marshalDefinitionJSON(wf)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE workflow_definitions SET
			name = $1, description = $2, version = $3, target_model = $4,
			is_active = $5, trigger_events = $6, trigger_conditions = $7,
			global_variables = $8, updated_at = $9
		WHERE id = $10`,
		wf.Name, wf.Description, wf.Version, wf.TargetModel,
		wf.IsActive, eventsJSON, condJSON,
		varsJSON, time.Now().UTC(),
		wf.ID,
	)
	if err != nil {
		return fmt.Errorf("update workflow definition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(
			fmt.Sprintf("workflow %q not found", wf.ID),
		)
	}

	// Replace steps wholesale.
	if _, err := tx.Exec(ctx, `DELETE FROM workflow_steps WHERE workflow_id = $1`, wf.ID); err != nil {
		return fmt.Errorf("delete workflow steps: %w", err)
	}
	if err := insertSteps(ctx, tx, wf.ID, wf.Steps); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Delete removes a workflow definition and its steps.
func (s *PgStore) Delete(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM workflow_steps WHERE workflow_id = $1`, id); err != nil {
		return fmt.Errorf("delete workflow steps: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM workflow_definitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workflow definition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(
			fmt.Sprintf("workflow %q not found", id),
		)
	}
	return tx.Commit(ctx)
}

// List returns workflow definitions matching the filters, newest first.
// Steps are loaded per definition.
func (s *PgStore) List(ctx context.Context, filters model.WorkflowFilters) ([]model.WorkflowDefinition, error) {
	query := `SELECT id, name, description, version, target_model, is_active,
	                 trigger_events, trigger_conditions, global_variables,
	                 created_at, updated_at
	          FROM workflow_definitions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filters.TargetModel != "" {
		query += fmt.Sprintf(" AND target_model = $%d", argIdx)
		args = append(args, filters.TargetModel)
		argIdx++
	}
	if filters.ActiveOnly {
		query += " AND is_active = true"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query workflow definitions: %w", err)
	}
	defer rows.Close()

	var result []model.WorkflowDefinition
	for rows.Next() {
		var wf model.WorkflowDefinition
		var condJSON, varsJSON, eventsJSON []byte
		if err := rows.Scan(
			&wf.ID, &wf.Name, &wf.Description, &wf.Version, &wf.TargetModel, &wf.IsActive,
			&eventsJSON, &condJSON, &varsJSON,
			&wf.CreatedAt, &wf.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan workflow definition: %w", err)
		}
		if err := unmarshalDefinitionJSON(&wf, eventsJSON, condJSON, varsJSON); err != nil {
			return nil, err
		}
		result = append(result, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		steps, err := s.querySteps(ctx, result[i].ID)
		if err != nil {
			return nil, err
		}
		result[i].Steps = steps
	}
	return result, nil
}

// ListActiveForModel returns active definitions targeting the given model.
func (s *PgStore) ListActiveForModel(ctx context.Context, targetModel string) ([]model.WorkflowDefinition, error) {
	return s.List(ctx, model.WorkflowFilters{TargetModel: targetModel, ActiveOnly: true})
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// querySteps loads the steps of one workflow ordered by step order.
func (s *PgStore) querySteps(ctx context.Context, workflowID string) ([]model.StepDefinition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workflow_id, step_order, step_name, step_type, description,
		       active, config
		FROM workflow_steps
		WHERE workflow_id = $1
		ORDER BY step_order ASC`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("query workflow steps: %w", err)
	}
	defer rows.Close()

	var steps []model.StepDefinition
	for rows.Next() {
		var step model.StepDefinition
		var configJSON []byte
		if err := rows.Scan(
			&step.ID, &step.WorkflowID, &step.StepOrder, &step.StepName,
			&step.StepType, &step.Description, &step.Active, &configJSON,
		); err != nil {
			return nil, fmt.Errorf("scan workflow step: %w", err)
		}
		if configJSON != nil {
			var cfg stepConfig
			if err := json.Unmarshal(configJSON, &cfg); err != nil {
				return nil, fmt.Errorf("unmarshal step config: %w", err)
			}
			cfg.applyTo(&step)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// insertSteps inserts all steps of a workflow within a transaction.
func insertSteps(ctx context.Context, tx pgx.Tx, workflowID string, steps []model.StepDefinition) error {
	for _, step := range steps {
		configJSON, err := json.Marshal(configOf(step))
		if err != nil {
			return fmt.Errorf("marshal step config: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO workflow_steps (
				id, workflow_id, step_order, step_name, step_type,
				description, active, config
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			step.ID, workflowID, step.StepOrder, step.StepName, step.StepType,
			step.Description, step.Active, configJSON,
		)
		if err != nil {
			return fmt.Errorf("insert workflow step: %w", err)
		}
	}
	return nil
}

// stepConfig is the JSONB shape holding the type-specific step settings.
type stepConfig struct {
	Templates   []model.StepTemplate  `json:"templates,omitempty"`
	Recipients  []string              `json:"recipients,omitempty"`
	Assignee    *model.AssigneeConfig `json:"assignee,omitempty"`
	RequireAck  bool                  `json:"require_ack,omitempty"`
	SLA         string                `json:"sla,omitempty"`
	Delay       string                `json:"delay,omitempty"`
	NonBlocking bool                  `json:"non_blocking,omitempty"`
	OnReject    string                `json:"on_reject,omitempty"`
	Webhook     *model.WebhookConfig  `json:"webhook,omitempty"`
}

func configOf(step model.StepDefinition) stepConfig {
	return stepConfig{
		Templates:   step.Templates,
		Recipients:  step.Recipients,
		Assignee:    step.Assignee,
		RequireAck:  step.RequireAck,
		SLA:         step.SLA,
		Delay:       step.Delay,
		NonBlocking: step.NonBlocking,
		OnReject:    step.OnReject,
		Webhook:     step.Webhook,
	}
}

func (c stepConfig) applyTo(step *model.StepDefinition) {
	step.Templates = c.Templates
	step.Recipients = c.Recipients
	step.Assignee = c.Assignee
	step.RequireAck = c.RequireAck
	step.SLA = c.SLA
	step.Delay = c.Delay
	step.NonBlocking = c.NonBlocking
	step.OnReject = c.OnReject
	step.Webhook = c.Webhook
}

func marshalDefinitionJSON(wf model.WorkflowDefinition) (condJSON, varsJSON, eventsJSON []byte, err error) {
	condJSON, err = json.Marshal(wf.TriggerConditions)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal trigger conditions: %w", err)
	}
	varsJSON, err = json.Marshal(wf.GlobalVariables)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal global variables: %w", err)
	}
	eventsJSON, err = json.Marshal(wf.TriggerEvents)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal trigger events: %w", err)
	}
	return condJSON, varsJSON, eventsJSON, nil
}

func unmarshalDefinitionJSON(wf *model.WorkflowDefinition, eventsJSON, condJSON, varsJSON []byte) error {
	if eventsJSON != nil {
		if err := json.Unmarshal(eventsJSON, &wf.TriggerEvents); err != nil {
			return fmt.Errorf("unmarshal trigger events: %w", err)
		}
	}
	if condJSON != nil {
		if err := json.Unmarshal(condJSON, &wf.TriggerConditions); err != nil {
			return fmt.Errorf("unmarshal trigger conditions: %w", err)
		}
	}
	if varsJSON != nil {
		if err := json.Unmarshal(varsJSON, &wf.GlobalVariables); err != nil {
			return fmt.Errorf("unmarshal global variables: %w", err)
		}
	}
	return nil
}
