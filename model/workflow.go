package model

import (
	"sort"
	"time"
)

// Model lifecycle events that can trigger a workflow.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// Step types. The closed set of units of work a workflow can be composed of.
const (
	StepTypeNotification = "notification"
	StepTypeApproval     = "approval"
	StepTypeAssignment   = "assignment"
	StepTypeDelay        = "delay"
	StepTypeWebhook      = "webhook"
)

// Trigger condition operators.
const (
	OperatorEquals      = "equals"
	OperatorNotEquals   = "not_equals"
	OperatorContains    = "contains"
	OperatorGreaterThan = "greater_than"
	OperatorChanged     = "changed"
)

// Trigger condition combinators.
const (
	CombinatorAnd = "and"
	CombinatorOr  = "or"
)

// Rejection policies for approval steps.
const (
	OnRejectHalt     = "halt"
	OnRejectContinue = "continue"
)

// WorkflowDefinition is a named, versioned process definition. It owns an
// ordered list of step definitions and the trigger rules that decide when a
// model lifecycle event starts a new execution.
type WorkflowDefinition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     int    `json:"version"`
	TargetModel string `json:"target_model"`
	IsActive    bool   `json:"is_active"`

	// TriggerEvents restricts which lifecycle events are considered.
	// Empty means all events of the target model.
	TriggerEvents []string `json:"trigger_events,omitempty"`

	// TriggerConditions are evaluated against the event snapshot. An empty
	// list matches every event of the registered type.
	TriggerConditions []TriggerCondition `json:"trigger_conditions"`

	// GlobalVariables seed the context data of every execution and are
	// available inside step templates.
	GlobalVariables map[string]any `json:"global_variables,omitempty"`

	Steps []StepDefinition `json:"steps"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ActiveSteps returns the active step definitions ordered by step order.
// Only these count toward execution sequence and progress.
func (w *WorkflowDefinition) ActiveSteps() []StepDefinition {
	steps := make([]StepDefinition, 0, len(w.Steps))
	for _, s := range w.Steps {
		if s.Active {
			steps = append(steps, s)
		}
	}
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].StepOrder < steps[j].StepOrder
	})
	return steps
}

// MatchesEvent reports whether the given lifecycle event is one of the
// workflow's trigger events. An empty trigger event list matches all events.
func (w *WorkflowDefinition) MatchesEvent(event string) bool {
	if len(w.TriggerEvents) == 0 {
		return true
	}
	for _, e := range w.TriggerEvents {
		if e == event {
			return true
		}
	}
	return false
}

// TriggerCondition is a single predicate clause over a model field. Clauses
// combine left to right using each clause's combinator; an unset combinator
// defaults to AND.
type TriggerCondition struct {
	Field      string `json:"field"`
	Operator   string `json:"operator"`
	Value      any    `json:"value,omitempty"`
	Combinator string `json:"combinator,omitempty"`
}

// StepDefinition is an ordered, typed unit of work belonging to a workflow.
type StepDefinition struct {
	ID          string `json:"id"`
	WorkflowID  string `json:"workflow_id"`
	StepOrder   int    `json:"step_order"`
	StepName    string `json:"step_name"`
	StepType    string `json:"step_type"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`

	// Templates hold per-channel notification content.
	Templates []StepTemplate `json:"templates,omitempty"`

	// Recipients for notification steps. Each entry is either a literal
	// address or a {{variable}} expression resolved against context data.
	Recipients []string `json:"recipients,omitempty"`

	// Assignee configuration for approval and assignment steps.
	Assignee *AssigneeConfig `json:"assignee,omitempty"`

	// RequireAck makes an assignment step wait for a manual acknowledgement
	// instead of completing immediately.
	RequireAck bool `json:"require_ack,omitempty"`

	// SLA is a duration string; when set, due_at = dispatch time + SLA.
	SLA string `json:"sla,omitempty"`

	// Delay is a duration string for delay steps.
	Delay string `json:"delay,omitempty"`

	// NonBlocking lets the execution continue past a failure of this step.
	NonBlocking bool `json:"non_blocking,omitempty"`

	// OnReject controls approval rejection: "halt" (default) fails the
	// execution, "continue" records the rejection and advances.
	OnReject string `json:"on_reject,omitempty"`

	// Webhook configuration for webhook steps.
	Webhook *WebhookConfig `json:"webhook,omitempty"`
}

// SLADuration parses the step's SLA. Returns zero when unset or malformed.
func (s *StepDefinition) SLADuration() time.Duration {
	return parseDurationOrZero(s.SLA)
}

// DelayDuration parses the step's delay. Returns zero when unset or malformed.
func (s *StepDefinition) DelayDuration() time.Duration {
	return parseDurationOrZero(s.Delay)
}

func parseDurationOrZero(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}

// StepTemplate is one notification template body keyed by channel and
// optional language.
type StepTemplate struct {
	Channel  string `json:"channel"`
	Language string `json:"language,omitempty"`
	Subject  string `json:"subject,omitempty"`
	Body     string `json:"body"`
}

// AssigneeConfig describes who is responsible for a step. Type is "user"
// (Value is the user ID) or "role" (Value is a role name resolved at
// dispatch time).
type AssigneeConfig struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// WebhookConfig describes the outbound call made by a webhook step.
type WebhookConfig struct {
	URL    string `json:"url"`
	Method string `json:"method,omitempty"`
}

// WorkflowFilters are optional filters for listing workflow definitions.
type WorkflowFilters struct {
	TargetModel string
	ActiveOnly  bool
}

// TestReport is the result of validating a workflow definition before use.
type TestReport struct {
	WorkflowID  string   `json:"workflow_id"`
	ActiveSteps int      `json:"active_steps"`
	OK          bool     `json:"ok"`
	Warnings    []string `json:"warnings,omitempty"`
}
