package definition

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LinkingMx/Law-sub002/model"
)

// Service wraps a Store with validation, duplication, and pre-flight testing
// of workflow definitions.
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService creates a definition service.
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Create validates and persists a new workflow definition. Missing IDs are
// assigned; the version starts at 1.
func (s *Service) Create(ctx context.Context, wf model.WorkflowDefinition) (model.WorkflowDefinition, error) {
	if err := Validate(wf); err != nil {
		return model.WorkflowDefinition{}, err
	}

	now := time.Now().UTC()
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	wf.Version = 1
	wf.CreatedAt = now
	wf.UpdatedAt = now
	for i := range wf.Steps {
		if wf.Steps[i].ID == "" {
			wf.Steps[i].ID = uuid.NewString()
		}
		wf.Steps[i].WorkflowID = wf.ID
	}

	if err := s.store.Create(ctx, wf); err != nil {
		return model.WorkflowDefinition{}, err
	}

	s.logger.Info("workflow definition created",
		zap.String("workflow_id", wf.ID),
		zap.String("name", wf.Name),
		zap.String("target_model", wf.TargetModel),
	)
	return wf, nil
}

// Update validates and persists changes to an existing workflow definition.
// The stored version is incremented; running executions keep the version
// they started with.
func (s *Service) Update(ctx context.Context, id string, wf model.WorkflowDefinition) (model.WorkflowDefinition, error) {
	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return model.WorkflowDefinition{}, err
	}

	wf.ID = existing.ID
	if err := Validate(wf); err != nil {
		return model.WorkflowDefinition{}, err
	}

	wf.Version = existing.Version + 1
	wf.CreatedAt = existing.CreatedAt
	wf.UpdatedAt = time.Now().UTC()
	for i := range wf.Steps {
		if wf.Steps[i].ID == "" {
			wf.Steps[i].ID = uuid.NewString()
		}
		wf.Steps[i].WorkflowID = wf.ID
	}

	if err := s.store.Update(ctx, wf); err != nil {
		return model.WorkflowDefinition{}, err
	}

	s.logger.Info("workflow definition updated",
		zap.String("workflow_id", wf.ID),
		zap.Int("version", wf.Version),
	)
	return wf, nil
}

// Get retrieves a workflow definition by ID.
func (s *Service) Get(ctx context.Context, id string) (model.WorkflowDefinition, error) {
	return s.store.Get(ctx, id)
}

// Delete removes a workflow definition.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// List returns workflow definitions matching the filters.
func (s *Service) List(ctx context.Context, filters model.WorkflowFilters) ([]model.WorkflowDefinition, error) {
	return s.store.List(ctx, filters)
}

// Duplicate copies an existing workflow definition. The copy gets fresh IDs,
// a marked name, version 1, and starts inactive so it never triggers before
// review.
func (s *Service) Duplicate(ctx context.Context, id string) (model.WorkflowDefinition, error) {
	src, err := s.store.Get(ctx, id)
	if err != nil {
		return model.WorkflowDefinition{}, err
	}

	now := time.Now().UTC()
	dup := src
	dup.ID = uuid.NewString()
	dup.Name = src.Name + " (Copia)"
	dup.Version = 1
	dup.IsActive = false
	dup.CreatedAt = now
	dup.UpdatedAt = now
	dup.TriggerConditions = append([]model.TriggerCondition(nil), src.TriggerConditions...)
	if src.GlobalVariables != nil {
		dup.GlobalVariables = make(map[string]any, len(src.GlobalVariables))
		for k, v := range src.GlobalVariables {
			dup.GlobalVariables[k] = v
		}
	}
	dup.Steps = make([]model.StepDefinition, len(src.Steps))
	for i, step := range src.Steps {
		step.ID = uuid.NewString()
		step.WorkflowID = dup.ID
		step.Templates = append([]model.StepTemplate(nil), step.Templates...)
		step.Recipients = append([]string(nil), step.Recipients...)
		if step.Assignee != nil {
			assignee := *step.Assignee
			step.Assignee = &assignee
		}
		if step.Webhook != nil {
			webhook := *step.Webhook
			step.Webhook = &webhook
		}
		dup.Steps[i] = step
	}

	if err := s.store.Create(ctx, dup); err != nil {
		return model.WorkflowDefinition{}, err
	}

	s.logger.Info("workflow definition duplicated",
		zap.String("source_id", id),
		zap.String("workflow_id", dup.ID),
	)
	return dup, nil
}

// Test runs a pre-flight check against a stored definition and reports
// configuration problems that would degrade or stall executions. OK is true
// when no warnings were found.
func (s *Service) Test(ctx context.Context, id string) (model.TestReport, error) {
	wf, err := s.store.Get(ctx, id)
	if err != nil {
		return model.TestReport{}, err
	}

	active := wf.ActiveSteps()
	if len(active) == 0 {
		return model.TestReport{}, model.NewConfigurationError("workflow has no active steps")
	}

	var warnings []string

	for _, cond := range wf.TriggerConditions {
		if cond.Field == "" {
			warnings = append(warnings, "trigger condition has no field")
		}
		switch cond.Operator {
		case model.OperatorEquals, model.OperatorNotEquals, model.OperatorContains,
			model.OperatorGreaterThan, model.OperatorChanged:
		default:
			warnings = append(warnings, fmt.Sprintf("trigger condition on %q uses unknown operator %q", cond.Field, cond.Operator))
		}
	}

	for _, step := range active {
		prefix := fmt.Sprintf("step %d (%s)", step.StepOrder, step.StepName)
		switch step.StepType {
		case model.StepTypeNotification:
			if len(step.Templates) == 0 {
				warnings = append(warnings, prefix+": notification step has no templates")
			}
			if len(step.Recipients) == 0 {
				warnings = append(warnings, prefix+": notification step has no recipients")
			}
		case model.StepTypeApproval:
			if step.Assignee == nil {
				warnings = append(warnings, prefix+": approval step has no assignee")
			}
		case model.StepTypeDelay:
			if step.DelayDuration() <= 0 {
				warnings = append(warnings, prefix+": delay step has no usable delay duration")
			}
		case model.StepTypeWebhook:
			if step.Webhook == nil || step.Webhook.URL == "" {
				warnings = append(warnings, prefix+": webhook step has no URL")
			}
		}
		if step.SLA != "" && step.SLADuration() <= 0 {
			warnings = append(warnings, prefix+fmt.Sprintf(": SLA %q does not parse", step.SLA))
		}
	}

	return model.TestReport{
		WorkflowID:  wf.ID,
		ActiveSteps: len(active),
		OK:          len(warnings) == 0,
		Warnings:    warnings,
	}, nil
}

// validStepTypes is the closed set of supported step types.
var validStepTypes = map[string]bool{
	model.StepTypeNotification: true,
	model.StepTypeApproval:     true,
	model.StepTypeAssignment:   true,
	model.StepTypeDelay:        true,
	model.StepTypeWebhook:      true,
}

// Validate checks structural integrity of a workflow definition. Returns a
// VALIDATION_ERROR with field details on failure.
func Validate(wf model.WorkflowDefinition) error {
	var details []model.FieldError

	if wf.Name == "" {
		details = append(details, model.FieldError{
			Field: "name", Code: "required", Message: "name is required",
		})
	}
	if wf.TargetModel == "" {
		details = append(details, model.FieldError{
			Field: "target_model", Code: "required", Message: "target_model is required",
		})
	}
	for _, event := range wf.TriggerEvents {
		switch event {
		case model.EventCreated, model.EventUpdated, model.EventDeleted:
		default:
			details = append(details, model.FieldError{
				Field: "trigger_events", Code: "invalid",
				Message: fmt.Sprintf("unknown trigger event %q", event),
			})
		}
	}

	seenOrders := make(map[int]bool)
	for i, step := range wf.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		if step.StepName == "" {
			details = append(details, model.FieldError{
				Field: field + ".step_name", Code: "required", Message: "step_name is required",
			})
		}
		if !validStepTypes[step.StepType] {
			details = append(details, model.FieldError{
				Field: field + ".step_type", Code: "invalid",
				Message: fmt.Sprintf("unknown step type %q", step.StepType),
			})
		}
		if step.StepOrder < 1 {
			details = append(details, model.FieldError{
				Field: field + ".step_order", Code: "invalid", Message: "step_order must be at least 1",
			})
		} else if seenOrders[step.StepOrder] {
			details = append(details, model.FieldError{
				Field: field + ".step_order", Code: "duplicate",
				Message: fmt.Sprintf("step_order %d is used more than once", step.StepOrder),
			})
		}
		seenOrders[step.StepOrder] = true

		if step.OnReject != "" && step.OnReject != model.OnRejectHalt && step.OnReject != model.OnRejectContinue {
			details = append(details, model.FieldError{
				Field: field + ".on_reject", Code: "invalid",
				Message: fmt.Sprintf("on_reject must be %q or %q", model.OnRejectHalt, model.OnRejectContinue),
			})
		}
		if step.Assignee != nil && step.Assignee.Type != "user" && step.Assignee.Type != "role" {
			details = append(details, model.FieldError{
				Field: field + ".assignee.type", Code: "invalid",
				Message: "assignee type must be \"user\" or \"role\"",
			})
		}
	}

	if len(details) > 0 {
		return model.NewValidationError(details)
	}
	return nil
}
