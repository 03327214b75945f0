package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LinkingMx/Law-sub002/internal/config"
	"github.com/LinkingMx/Law-sub002/internal/definition"
	"github.com/LinkingMx/Law-sub002/internal/notify"
	"github.com/LinkingMx/Law-sub002/internal/observability"
	"github.com/LinkingMx/Law-sub002/internal/template"
	"github.com/LinkingMx/Law-sub002/internal/trigger"
	"github.com/LinkingMx/Law-sub002/model"
)

const defaultMaxAdvanceSteps = 100

// stepOutcome is the result of dispatching one step.
type stepOutcome int

const (
	outcomeCompleted stepOutcome = iota
	outcomeWaiting
	outcomeSkipped
	outcomeFailed
)

// Engine manages the lifecycle of workflow executions.
type Engine struct {
	definitions definition.Store
	store       ExecutionStore
	dispatchers notify.Registry
	resolver    AssigneeResolver
	metrics     *observability.Metrics
	logger      *zap.Logger
	cfg         config.EngineConfig

	defaultLang string
	webhook     *http.Client
}

// NewEngine creates a new workflow engine.
func NewEngine(
	definitions definition.Store,
	store ExecutionStore,
	dispatchers notify.Registry,
	resolver AssigneeResolver,
	metrics *observability.Metrics,
	logger *zap.Logger,
	cfg config.EngineConfig,
	defaultLang string,
) *Engine {
	if cfg.MaxAdvanceSteps < 1 {
		cfg.MaxAdvanceSteps = defaultMaxAdvanceSteps
	}
	webhookTimeout := cfg.Webhook.Timeout
	if webhookTimeout <= 0 {
		webhookTimeout = 10 * time.Second
	}
	return &Engine{
		definitions: definitions,
		store:       store,
		dispatchers: dispatchers,
		resolver:    resolver,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
		defaultLang: defaultLang,
		webhook:     &http.Client{Timeout: webhookTimeout},
	}
}

// HandleEvent processes a model lifecycle event: it cancels executions bound
// to a deleted record, evaluates the trigger conditions of every active
// workflow targeting the model, and starts an execution per match. One
// workflow failing to start does not block the others.
func (e *Engine) HandleEvent(ctx context.Context, rctx *model.RequestContext, event model.ModelEvent) ([]model.WorkflowExecution, error) {
	e.metrics.RecordTriggerEvent(event.Model, event.Event)

	// A deleted record first tears down whatever is running against it;
	// deletion-triggered workflows are evaluated afterwards.
	if event.Event == model.EventDeleted {
		if err := e.CancelForTarget(ctx, event.Model, event.ID, "target record deleted"); err != nil {
			return nil, err
		}
	}

	defs, err := e.definitions.ListActiveForModel(ctx, event.Model)
	if err != nil {
		return nil, err
	}

	var started []model.WorkflowExecution
	for _, wf := range defs {
		if !wf.MatchesEvent(event.Event) {
			continue
		}

		matched, err := trigger.Evaluate(wf.TriggerConditions, &event)
		if err != nil {
			e.metrics.RecordTriggerEvalError(wf.ID)
			e.logger.Warn("trigger evaluation failed",
				zap.String("workflow_id", wf.ID),
				zap.String("model", event.Model),
				zap.String("event", event.Event),
				zap.Error(err),
			)
			continue
		}
		if !matched {
			continue
		}

		e.metrics.RecordTriggerMatch(wf.ID)
		exec, err := e.Start(ctx, rctx, wf, event)
		if err != nil {
			e.logger.Error("starting execution failed",
				zap.String("workflow_id", wf.ID),
				zap.String("target_id", event.ID),
				zap.Error(err),
			)
			continue
		}
		started = append(started, exec)
	}
	return started, nil
}

// Start creates an execution of the given workflow for the triggering event
// and advances it as far as it will go without human input.
func (e *Engine) Start(ctx context.Context, rctx *model.RequestContext, wf model.WorkflowDefinition, event model.ModelEvent) (model.WorkflowExecution, error) {
	now := time.Now().UTC()

	// 1. Seed context data: global variables first, then the event snapshot,
	// then the reserved keys. Later writes win.
	contextData := make(map[string]any, len(wf.GlobalVariables)+len(event.Snapshot)+4)
	for k, v := range wf.GlobalVariables {
		contextData[k] = v
	}
	for k, v := range event.Snapshot {
		contextData[k] = v
	}
	contextData["target_model"] = event.Model
	contextData["target_id"] = event.ID
	contextData["trigger_event"] = event.Event

	initiator := event.Actor
	if initiator == "" {
		initiator = rctx.Actor()
	}
	contextData["initiator"] = initiator

	active := wf.ActiveSteps()
	firstOrder := 1
	if len(active) > 0 {
		firstOrder = active[0].StepOrder
	}

	// 2. Persist the execution before dispatching anything.
	exec := model.WorkflowExecution{
		ID:               uuid.New().String(),
		WorkflowID:       wf.ID,
		WorkflowVersion:  wf.Version,
		TargetModel:      event.Model,
		TargetID:         event.ID,
		Status:           model.ExecutionStatusInProgress,
		CurrentStepOrder: firstOrder,
		ContextData:      contextData,
		Initiator:        initiator,
		StartedAt:        now,
		CreatedAt:        now,
		UpdatedAt:        now,
		Version:          1,
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return model.WorkflowExecution{}, err
	}

	e.appendEvent(ctx, exec.ID, "", "execution_started", initiator, map[string]any{
		"workflow_id": wf.ID,
		"event":       event.Event,
	}, "")
	e.metrics.RecordExecutionStart(wf.ID)
	e.logger.Info("execution started",
		zap.String("execution_id", exec.ID),
		zap.String("workflow_id", wf.ID),
		zap.String("target_model", event.Model),
		zap.String("target_id", event.ID),
	)

	// 3. A workflow with no active steps completes on the spot.
	if len(active) == 0 {
		return e.completeExecution(ctx, exec)
	}

	return e.advance(ctx, exec, wf)
}

// advance walks the execution through its active steps in order until a step
// waits for input, the execution terminates, or the advance budget runs out.
func (e *Engine) advance(ctx context.Context, exec model.WorkflowExecution, wf model.WorkflowDefinition) (model.WorkflowExecution, error) {
	active := wf.ActiveSteps()

	for hop := 0; hop < e.cfg.MaxAdvanceSteps; hop++ {
		if exec.IsTerminal() {
			return exec, nil
		}

		steps, err := e.store.ListStepExecutions(ctx, exec.ID)
		if err != nil {
			return exec, err
		}
		byOrder := make(map[int]model.StepExecution, len(steps))
		for _, se := range steps {
			byOrder[se.StepOrder] = se
		}

		// Find the first active step that has not succeeded yet.
		var next *model.StepDefinition
		for i := range active {
			se, exists := byOrder[active[i].StepOrder]
			if !exists {
				next = &active[i]
				break
			}
			if se.Succeeded() {
				continue
			}
			// A non-terminal step is waiting for input or the scheduler;
			// a failed one already terminated the execution.
			return exec, nil
		}

		if next == nil {
			return e.completeExecution(ctx, exec)
		}

		exec, err = e.dispatchStep(ctx, exec, wf, *next)
		if err != nil {
			return exec, err
		}
		if exec.IsTerminal() {
			return exec, nil
		}
		// If the dispatched step is still open, stop advancing.
		if exec.CurrentStepOrder <= next.StepOrder {
			return exec, nil
		}
	}

	e.logger.Error("advance budget exhausted",
		zap.String("execution_id", exec.ID),
		zap.Int("max_advance_steps", e.cfg.MaxAdvanceSteps),
	)
	return exec, model.NewInternalError()
}

// dispatchStep creates and runs the step execution for one step definition.
func (e *Engine) dispatchStep(ctx context.Context, exec model.WorkflowExecution, wf model.WorkflowDefinition, step model.StepDefinition) (model.WorkflowExecution, error) {
	now := time.Now().UTC()
	se := model.StepExecution{
		ID:          uuid.New().String(),
		ExecutionID: exec.ID,
		StepID:      step.ID,
		StepOrder:   step.StepOrder,
		StepType:    step.StepType,
		Status:      model.StepStatusPending,
		StartedAt:   &now,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}

	var outcome stepOutcome
	var detail string

	switch step.StepType {
	case model.StepTypeNotification:
		outcome, detail = e.runNotificationStep(ctx, exec, step, &se)
	case model.StepTypeApproval:
		outcome, detail = e.runApprovalStep(ctx, exec, step, &se)
	case model.StepTypeAssignment:
		outcome, detail = e.runAssignmentStep(exec, step, &se)
	case model.StepTypeDelay:
		outcome, detail = e.runDelayStep(step, &se)
	case model.StepTypeWebhook:
		outcome, detail = e.runWebhookStep(ctx, exec, step, &se)
	default:
		outcome, detail = outcomeFailed, fmt.Sprintf("unknown step type %q", step.StepType)
	}

	// A blocking failure becomes a skip when the step is non-blocking.
	if outcome == outcomeFailed && step.NonBlocking {
		outcome = outcomeSkipped
		se.Status = model.StepStatusSkipped
	}

	completed := time.Now().UTC()
	switch outcome {
	case outcomeCompleted:
		se.Status = model.StepStatusCompleted
		se.CompletedAt = &completed
	case outcomeSkipped:
		se.Status = model.StepStatusSkipped
		se.CompletedAt = &completed
	case outcomeFailed:
		se.Status = model.StepStatusFailed
		se.CompletedAt = &completed
	}

	if err := e.store.CreateStepExecution(ctx, se); err != nil {
		return exec, err
	}

	switch outcome {
	case outcomeWaiting:
		e.appendEvent(ctx, exec.ID, step.ID, "step_dispatched", model.SystemActor, map[string]any{
			"step_order": step.StepOrder,
			"step_type":  step.StepType,
		}, detail)
		exec.UpdatedAt = time.Now().UTC()
		if err := e.store.UpdateExecution(ctx, exec); err != nil {
			return exec, err
		}
		return e.store.GetExecution(ctx, exec.ID)

	case outcomeCompleted, outcomeSkipped:
		event := "step_completed"
		if outcome == outcomeSkipped {
			event = "step_skipped"
		}
		e.appendEvent(ctx, exec.ID, step.ID, event, model.SystemActor, nil, detail)
		e.metrics.RecordStepExecution(step.StepType, se.Status, completed.Sub(now))

		exec.RecordStepResult(step.StepOrder, model.StepResult{Status: se.Status, Detail: detail})
		exec.CurrentStepOrder = step.StepOrder + 1
		if err := e.store.UpdateExecution(ctx, exec); err != nil {
			return exec, err
		}
		return e.store.GetExecution(ctx, exec.ID)

	default: // outcomeFailed
		e.appendEvent(ctx, exec.ID, step.ID, "step_failed", model.SystemActor,
			map[string]any{"error": detail}, "")
		e.metrics.RecordStepExecution(step.StepType, se.Status, completed.Sub(now))
		exec.RecordStepResult(step.StepOrder, model.StepResult{Status: model.StepStatusFailed, Detail: detail})
		return e.failExecution(ctx, exec, detail)
	}
}

// runNotificationStep renders and delivers the step's templates. Every
// configured dispatch must succeed for the step to complete.
func (e *Engine) runNotificationStep(ctx context.Context, exec model.WorkflowExecution, step model.StepDefinition, se *model.StepExecution) (stepOutcome, string) {
	records, failures := e.deliver(ctx, exec, step, "")
	se.NotificationsSent = records

	if len(records) == 0 {
		return outcomeCompleted, "nothing to send"
	}
	if failures > 0 {
		return outcomeFailed, fmt.Sprintf("%d of %d dispatches failed", failures, len(records))
	}
	return outcomeCompleted, fmt.Sprintf("%d notifications sent", len(records))
}

// runApprovalStep assigns the step and leaves it open for a decision.
// Configured templates are delivered to the assignee best-effort.
func (e *Engine) runApprovalStep(ctx context.Context, exec model.WorkflowExecution, step model.StepDefinition, se *model.StepExecution) (stepOutcome, string) {
	assignee, err := e.resolver.Resolve(step.Assignee, exec.ContextData)
	if err != nil {
		return outcomeFailed, err.Error()
	}
	se.Status = model.StepStatusInProgress
	se.AssignedTo = assignee
	if sla := step.SLADuration(); sla > 0 {
		due := time.Now().UTC().Add(sla)
		se.DueAt = &due
	}

	records, _ := e.deliver(ctx, exec, step, assignee)
	se.NotificationsSent = records

	return outcomeWaiting, "assigned to " + assignee
}

// runAssignmentStep resolves the assignee. Without an acknowledgement
// requirement the step completes immediately.
func (e *Engine) runAssignmentStep(exec model.WorkflowExecution, step model.StepDefinition, se *model.StepExecution) (stepOutcome, string) {
	assignee, err := e.resolver.Resolve(step.Assignee, exec.ContextData)
	if err != nil {
		return outcomeFailed, err.Error()
	}
	se.AssignedTo = assignee

	if step.RequireAck {
		se.Status = model.StepStatusInProgress
		if sla := step.SLADuration(); sla > 0 {
			due := time.Now().UTC().Add(sla)
			se.DueAt = &due
		}
		return outcomeWaiting, "awaiting acknowledgement from " + assignee
	}

	se.CompletedBy = model.SystemActor
	return outcomeCompleted, "assigned to " + assignee
}

// runDelayStep schedules the step for the due scan. A delay that parses to
// zero completes immediately.
func (e *Engine) runDelayStep(step model.StepDefinition, se *model.StepExecution) (stepOutcome, string) {
	delay := step.DelayDuration()
	if delay <= 0 {
		return outcomeCompleted, "no delay configured"
	}
	due := time.Now().UTC().Add(delay)
	se.DueAt = &due
	return outcomeWaiting, "waiting until " + due.Format(time.RFC3339)
}

// runWebhookStep posts the execution context to the configured URL with
// retries.
func (e *Engine) runWebhookStep(ctx context.Context, exec model.WorkflowExecution, step model.StepDefinition, se *model.StepExecution) (stepOutcome, string) {
	if step.Webhook == nil || step.Webhook.URL == "" {
		return outcomeFailed, "webhook step has no URL"
	}

	payload, err := json.Marshal(map[string]any{
		"execution_id": exec.ID,
		"workflow_id":  exec.WorkflowID,
		"target_model": exec.TargetModel,
		"target_id":    exec.TargetID,
		"step_order":   step.StepOrder,
		"step_name":    step.StepName,
		"context_data": exec.ContextData,
	})
	if err != nil {
		return outcomeFailed, fmt.Sprintf("encoding payload: %v", err)
	}

	method := step.Webhook.Method
	if method == "" {
		method = http.MethodPost
	}

	maxAttempts := e.cfg.Dispatch.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := notify.Backoff(e.cfg.Dispatch, attempt)
			select {
			case <-ctx.Done():
				return outcomeFailed, ctx.Err().Error()
			case <-time.After(delay):
			}
		}
		lastErr = e.callWebhook(ctx, method, step.Webhook.URL, payload)
		if lastErr == nil {
			return outcomeCompleted, "webhook delivered"
		}
	}
	return outcomeFailed, lastErr.Error()
}

func (e *Engine) callWebhook(ctx context.Context, method, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	observability.InjectTraceHeaders(ctx, req.Header)

	resp, err := e.webhook.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// deliver renders the step's templates and sends them over their channels.
// The mail channel fans out to the step's recipients (plus the assignee when
// given); other channels send once. Returns the dispatch log and the number
// of failures.
func (e *Engine) deliver(ctx context.Context, exec model.WorkflowExecution, step model.StepDefinition, assignee string) ([]model.DispatchRecord, int) {
	var records []model.DispatchRecord
	failures := 0

	send := func(d notify.Dispatcher, channel string, msg notify.Message) {
		start := time.Now()
		err := notify.SendWithRetry(ctx, d, msg, e.cfg.Dispatch, func() {
			e.metrics.RecordDispatchRetry(channel)
		})
		duration := time.Since(start)

		record := model.DispatchRecord{
			Channel:   channel,
			Recipient: msg.Recipient,
			Subject:   msg.Subject,
			At:        time.Now().UTC(),
			Success:   err == nil,
		}
		if err != nil {
			record.Error = err.Error()
			failures++
			e.metrics.RecordNotification(channel, "failure", duration)
			e.logger.Warn("notification dispatch failed",
				zap.String("execution_id", exec.ID),
				zap.String("channel", channel),
				zap.String("recipient", msg.Recipient),
				zap.Error(err),
			)
		} else {
			e.metrics.RecordNotification(channel, "success", duration)
		}
		records = append(records, record)
	}

	for _, tpl := range e.pickTemplates(step.Templates) {
		subject := template.Render(tpl.Subject, exec.ContextData)
		body := template.Render(tpl.Body, exec.ContextData)

		dispatcher, ok := e.dispatchers.Lookup(tpl.Channel)
		if !ok {
			failures++
			records = append(records, model.DispatchRecord{
				Channel: tpl.Channel,
				At:      time.Now().UTC(),
				Error:   fmt.Sprintf("channel %q not configured", tpl.Channel),
			})
			continue
		}

		if tpl.Channel == notify.ChannelMail {
			recipients := e.resolveRecipients(step.Recipients, exec.ContextData)
			if assignee != "" {
				recipients = append(recipients, assignee)
			}
			for _, rcpt := range recipients {
				send(dispatcher, tpl.Channel, notify.Message{Recipient: rcpt, Subject: subject, Body: body})
			}
		} else {
			send(dispatcher, tpl.Channel, notify.Message{Subject: subject, Body: body})
		}
	}
	return records, failures
}

// pickTemplates selects one template per channel, preferring the default
// language.
func (e *Engine) pickTemplates(templates []model.StepTemplate) []model.StepTemplate {
	chosen := make(map[string]model.StepTemplate)
	var order []string
	for _, tpl := range templates {
		existing, seen := chosen[tpl.Channel]
		if !seen {
			chosen[tpl.Channel] = tpl
			order = append(order, tpl.Channel)
			continue
		}
		if existing.Language != e.defaultLang && tpl.Language == e.defaultLang {
			chosen[tpl.Channel] = tpl
		}
	}
	result := make([]model.StepTemplate, 0, len(order))
	for _, ch := range order {
		result = append(result, chosen[ch])
	}
	return result
}

// resolveRecipients renders recipient expressions against context data and
// drops the ones that resolve empty.
func (e *Engine) resolveRecipients(recipients []string, contextData map[string]any) []string {
	var out []string
	for _, r := range recipients {
		resolved := template.Render(r, contextData)
		if resolved != "" {
			out = append(out, resolved)
		}
	}
	return out
}

// Approve completes an open approval step and advances the execution.
func (e *Engine) Approve(ctx context.Context, rctx *model.RequestContext, stepExecutionID, comment string) (model.WorkflowExecution, error) {
	se, exec, wf, err := e.loadActionableStep(ctx, stepExecutionID, model.StepTypeApproval)
	if err != nil {
		return model.WorkflowExecution{}, err
	}

	now := time.Now().UTC()
	se.Status = model.StepStatusCompleted
	se.CompletedBy = rctx.Actor()
	se.CompletedAt = &now
	se.Comments = comment
	if err := e.store.UpdateStepExecution(ctx, se); err != nil {
		return model.WorkflowExecution{}, err
	}

	e.appendEvent(ctx, exec.ID, se.StepID, "step_approved", rctx.Actor(), nil, comment)
	e.metrics.RecordStepExecution(se.StepType, se.Status, stepElapsed(se, now))
	e.logger.Info("approval granted",
		zap.String("execution_id", exec.ID),
		zap.String("step_execution_id", se.ID),
		zap.String("actor", rctx.Actor()),
	)

	exec.RecordStepResult(se.StepOrder, model.StepResult{
		Status: model.StepStatusCompleted,
		Detail: "approved by " + rctx.Actor(),
	})
	exec.CurrentStepOrder = se.StepOrder + 1
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return model.WorkflowExecution{}, err
	}
	exec, err = e.store.GetExecution(ctx, exec.ID)
	if err != nil {
		return model.WorkflowExecution{}, err
	}
	return e.advance(ctx, exec, wf)
}

// Reject records a rejection on an open approval step. Depending on the
// step's rejection policy the execution fails or continues past the step.
func (e *Engine) Reject(ctx context.Context, rctx *model.RequestContext, stepExecutionID, comment string) (model.WorkflowExecution, error) {
	se, exec, wf, err := e.loadActionableStep(ctx, stepExecutionID, model.StepTypeApproval)
	if err != nil {
		return model.WorkflowExecution{}, err
	}

	var stepDef *model.StepDefinition
	for i := range wf.Steps {
		if wf.Steps[i].ID == se.StepID || wf.Steps[i].StepOrder == se.StepOrder {
			stepDef = &wf.Steps[i]
			break
		}
	}
	onReject := model.OnRejectHalt
	if stepDef != nil && stepDef.OnReject != "" {
		onReject = stepDef.OnReject
	}

	now := time.Now().UTC()
	se.CompletedBy = rctx.Actor()
	se.CompletedAt = &now
	se.Comments = comment
	if onReject == model.OnRejectContinue {
		// The execution moves on; the step does not count against progress.
		se.Status = model.StepStatusSkipped
	} else {
		se.Status = model.StepStatusFailed
	}
	if err := e.store.UpdateStepExecution(ctx, se); err != nil {
		return model.WorkflowExecution{}, err
	}

	e.appendEvent(ctx, exec.ID, se.StepID, "step_rejected", rctx.Actor(), map[string]any{
		"on_reject": onReject,
	}, comment)
	e.metrics.RecordStepExecution(se.StepType, se.Status, stepElapsed(se, now))
	e.logger.Info("approval rejected",
		zap.String("execution_id", exec.ID),
		zap.String("step_execution_id", se.ID),
		zap.String("actor", rctx.Actor()),
		zap.String("on_reject", onReject),
	)

	exec.RecordStepResult(se.StepOrder, model.StepResult{
		Status: se.Status,
		Detail: "rejected by " + rctx.Actor(),
		Data:   map[string]any{"decision": "rejected"},
	})

	if onReject == model.OnRejectContinue {
		exec.CurrentStepOrder = se.StepOrder + 1
		if err := e.store.UpdateExecution(ctx, exec); err != nil {
			return model.WorkflowExecution{}, err
		}
		exec, err = e.store.GetExecution(ctx, exec.ID)
		if err != nil {
			return model.WorkflowExecution{}, err
		}
		return e.advance(ctx, exec, wf)
	}
	return e.failExecution(ctx, exec, "approval rejected")
}

// Acknowledge completes an open assignment step that requires manual
// acknowledgement.
func (e *Engine) Acknowledge(ctx context.Context, rctx *model.RequestContext, stepExecutionID, comment string) (model.WorkflowExecution, error) {
	se, exec, wf, err := e.loadActionableStep(ctx, stepExecutionID, model.StepTypeAssignment)
	if err != nil {
		return model.WorkflowExecution{}, err
	}

	now := time.Now().UTC()
	se.Status = model.StepStatusCompleted
	se.CompletedBy = rctx.Actor()
	se.CompletedAt = &now
	se.Comments = comment
	if err := e.store.UpdateStepExecution(ctx, se); err != nil {
		return model.WorkflowExecution{}, err
	}

	e.appendEvent(ctx, exec.ID, se.StepID, "step_acknowledged", rctx.Actor(), nil, comment)
	e.metrics.RecordStepExecution(se.StepType, se.Status, stepElapsed(se, now))

	exec.RecordStepResult(se.StepOrder, model.StepResult{
		Status: model.StepStatusCompleted,
		Detail: "acknowledged by " + rctx.Actor(),
	})
	exec.CurrentStepOrder = se.StepOrder + 1
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return model.WorkflowExecution{}, err
	}
	exec, err = e.store.GetExecution(ctx, exec.ID)
	if err != nil {
		return model.WorkflowExecution{}, err
	}
	return e.advance(ctx, exec, wf)
}

// loadActionableStep loads a step execution that is open and of the wanted
// type, along with its execution and workflow definition.
func (e *Engine) loadActionableStep(ctx context.Context, stepExecutionID, wantType string) (model.StepExecution, model.WorkflowExecution, model.WorkflowDefinition, error) {
	se, err := e.store.GetStepExecution(ctx, stepExecutionID)
	if err != nil {
		return model.StepExecution{}, model.WorkflowExecution{}, model.WorkflowDefinition{}, err
	}
	if se.StepType != wantType || se.Status != model.StepStatusInProgress {
		return model.StepExecution{}, model.WorkflowExecution{}, model.WorkflowDefinition{}, model.NewStepNotActionableError(
			fmt.Sprintf("step execution %q is a %s step in status %s", se.ID, se.StepType, se.Status),
		)
	}

	exec, err := e.store.GetExecution(ctx, se.ExecutionID)
	if err != nil {
		return model.StepExecution{}, model.WorkflowExecution{}, model.WorkflowDefinition{}, err
	}
	if exec.IsTerminal() {
		return model.StepExecution{}, model.WorkflowExecution{}, model.WorkflowDefinition{}, model.NewExecutionNotActiveError(
			fmt.Sprintf("execution %q is %s", exec.ID, exec.Status),
		)
	}

	wf, err := e.definitions.Get(ctx, exec.WorkflowID)
	if err != nil {
		return model.StepExecution{}, model.WorkflowExecution{}, model.WorkflowDefinition{}, err
	}
	return se, exec, wf, nil
}

// Cancel terminates an active execution and its open steps.
func (e *Engine) Cancel(ctx context.Context, rctx *model.RequestContext, executionID, reason string) (model.WorkflowExecution, error) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return model.WorkflowExecution{}, err
	}
	if exec.IsTerminal() {
		return model.WorkflowExecution{}, model.NewExecutionNotActiveError(
			fmt.Sprintf("execution %q is %s, cannot cancel", executionID, exec.Status),
		)
	}

	now := time.Now().UTC()

	// Close any open step executions first.
	steps, err := e.store.ListStepExecutions(ctx, exec.ID)
	if err != nil {
		return model.WorkflowExecution{}, err
	}
	for _, se := range steps {
		if se.IsTerminal() {
			continue
		}
		se.Status = model.StepStatusCancelled
		se.CompletedAt = &now
		if err := e.store.UpdateStepExecution(ctx, se); err != nil && !model.IsCode(err, model.ErrConflict) {
			return model.WorkflowExecution{}, err
		}
	}

	exec.Status = model.ExecutionStatusCancelled
	exec.CompletedAt = &now
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return model.WorkflowExecution{}, err
	}

	e.appendEvent(ctx, exec.ID, "", "execution_cancelled", rctx.Actor(), nil, reason)
	e.metrics.RecordExecutionCompletion(exec.WorkflowID, model.ExecutionStatusCancelled)
	e.logger.Info("execution cancelled",
		zap.String("execution_id", exec.ID),
		zap.String("actor", rctx.Actor()),
		zap.String("reason", reason),
	)
	return e.store.GetExecution(ctx, exec.ID)
}

// CancelForTarget cancels every non-terminal execution bound to a target
// record.
func (e *Engine) CancelForTarget(ctx context.Context, targetModel, targetID, reason string) error {
	execs, err := e.store.FindActiveByTarget(ctx, targetModel, targetID)
	if err != nil {
		return err
	}
	for _, exec := range execs {
		if _, err := e.Cancel(ctx, model.SystemContext(), exec.ID, reason); err != nil {
			if model.IsCode(err, model.ErrConflict) || model.IsCode(err, model.ErrExecutionNotActive) {
				continue
			}
			return err
		}
	}
	return nil
}

// Descriptor returns the display representation of an execution.
func (e *Engine) Descriptor(ctx context.Context, executionID string) (model.ExecutionDescriptor, error) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return model.ExecutionDescriptor{}, err
	}
	steps, err := e.store.ListStepExecutions(ctx, executionID)
	if err != nil {
		return model.ExecutionDescriptor{}, err
	}

	// Progress is measured against the definition's active steps. A deleted
	// definition degrades to the dispatched step count.
	totalActive := len(steps)
	if wf, err := e.definitions.Get(ctx, exec.WorkflowID); err == nil {
		totalActive = len(wf.ActiveSteps())
	}

	return model.ExecutionDescriptor{
		Execution: exec,
		Progress:  model.Progress(totalActive, steps),
		Elapsed:   exec.Elapsed(time.Now().UTC()).Round(time.Second).String(),
		Steps:     steps,
	}, nil
}

// WorkItem is one step execution waiting on a user, paired with its parent
// execution for display.
type WorkItem struct {
	Step      model.StepExecution     `json:"step"`
	Execution model.WorkflowExecution `json:"execution"`
}

// WorkItems returns the in-progress steps assigned to the user together
// with their executions, oldest first.
func (e *Engine) WorkItems(ctx context.Context, assignee string) ([]WorkItem, error) {
	steps, err := e.store.FindOpenStepsByAssignee(ctx, assignee)
	if err != nil {
		return nil, err
	}
	items := make([]WorkItem, 0, len(steps))
	for _, step := range steps {
		exec, err := e.store.GetExecution(ctx, step.ExecutionID)
		if err != nil {
			return nil, err
		}
		items = append(items, WorkItem{Step: step, Execution: exec})
	}
	return items, nil
}

// List returns executions matching the filters with the total count.
func (e *Engine) List(ctx context.Context, filters model.ExecutionFilters) ([]model.WorkflowExecution, int, error) {
	return e.store.ListExecutions(ctx, filters)
}

// Events returns the audit trail of an execution.
func (e *Engine) Events(ctx context.Context, executionID string) ([]model.ExecutionEvent, error) {
	if _, err := e.store.GetExecution(ctx, executionID); err != nil {
		return nil, err
	}
	return e.store.GetEvents(ctx, executionID)
}

// ProcessDue runs one due-step scan: elapsed delay steps complete and their
// executions advance; overdue approval and assignment steps are flagged
// once. Concurrent schedulers race on the step version; the loser skips.
func (e *Engine) ProcessDue(ctx context.Context) error {
	start := time.Now()
	now := start.UTC()

	due, err := e.store.FindDueStepExecutions(ctx, now)
	if err != nil {
		return fmt.Errorf("find due steps: %w", err)
	}

	for _, se := range due {
		if se.StepType == model.StepTypeDelay {
			if err := e.completeDelayStep(ctx, se, now); err != nil {
				e.logger.Error("completing delay step failed",
					zap.String("step_execution_id", se.ID),
					zap.Error(err),
				)
			}
			continue
		}
		if se.OverdueFlaggedAt != nil {
			continue
		}
		se.OverdueFlaggedAt = &now
		if err := e.store.UpdateStepExecution(ctx, se); err != nil {
			if model.IsCode(err, model.ErrConflict) {
				continue
			}
			e.logger.Error("flagging overdue step failed",
				zap.String("step_execution_id", se.ID),
				zap.Error(err),
			)
			continue
		}
		e.metrics.RecordStepOverdue(se.StepType)
		e.appendEvent(ctx, se.ExecutionID, se.StepID, "step_overdue", model.SystemActor, map[string]any{
			"step_order": se.StepOrder,
			"due_at":     se.DueAt,
		}, "")
		e.logger.Warn("step overdue",
			zap.String("execution_id", se.ExecutionID),
			zap.String("step_execution_id", se.ID),
			zap.String("step_type", se.StepType),
			zap.String("assigned_to", se.AssignedTo),
		)
	}

	e.metrics.RecordDueScan(time.Since(start))
	return nil
}

// completeDelayStep claims an elapsed delay step and advances its execution.
func (e *Engine) completeDelayStep(ctx context.Context, se model.StepExecution, now time.Time) error {
	se.Status = model.StepStatusCompleted
	se.CompletedBy = model.SystemActor
	se.CompletedAt = &now
	if err := e.store.UpdateStepExecution(ctx, se); err != nil {
		if model.IsCode(err, model.ErrConflict) {
			// Another scheduler claimed it.
			return nil
		}
		return err
	}

	e.appendEvent(ctx, se.ExecutionID, se.StepID, "delay_elapsed", model.SystemActor, nil, "")
	e.metrics.RecordStepExecution(se.StepType, se.Status, stepElapsed(se, now))

	exec, err := e.store.GetExecution(ctx, se.ExecutionID)
	if err != nil {
		return err
	}
	if exec.IsTerminal() {
		return nil
	}
	exec.RecordStepResult(se.StepOrder, model.StepResult{Status: model.StepStatusCompleted, Detail: "delay elapsed"})
	exec.CurrentStepOrder = se.StepOrder + 1
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		if model.IsCode(err, model.ErrConflict) {
			return nil
		}
		return err
	}
	exec, err = e.store.GetExecution(ctx, exec.ID)
	if err != nil {
		return err
	}
	wf, err := e.definitions.Get(ctx, exec.WorkflowID)
	if err != nil {
		return err
	}
	_, err = e.advance(ctx, exec, wf)
	return err
}

// completeExecution marks an execution completed.
func (e *Engine) completeExecution(ctx context.Context, exec model.WorkflowExecution) (model.WorkflowExecution, error) {
	now := time.Now().UTC()
	exec.Status = model.ExecutionStatusCompleted
	exec.CompletedAt = &now
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return exec, err
	}

	e.appendEvent(ctx, exec.ID, "", "execution_completed", model.SystemActor, nil, "")
	e.metrics.RecordExecutionCompletion(exec.WorkflowID, model.ExecutionStatusCompleted)
	e.logger.Info("execution completed",
		zap.String("execution_id", exec.ID),
		zap.String("workflow_id", exec.WorkflowID),
	)
	return e.store.GetExecution(ctx, exec.ID)
}

// failExecution marks an execution failed.
func (e *Engine) failExecution(ctx context.Context, exec model.WorkflowExecution, reason string) (model.WorkflowExecution, error) {
	now := time.Now().UTC()
	exec.Status = model.ExecutionStatusFailed
	exec.CompletedAt = &now
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return exec, err
	}

	e.appendEvent(ctx, exec.ID, "", "execution_failed", model.SystemActor, nil, reason)
	e.metrics.RecordExecutionCompletion(exec.WorkflowID, model.ExecutionStatusFailed)
	e.logger.Warn("execution failed",
		zap.String("execution_id", exec.ID),
		zap.String("workflow_id", exec.WorkflowID),
		zap.String("reason", reason),
	)
	return e.store.GetExecution(ctx, exec.ID)
}

// appendEvent records an audit trail entry. Audit failures are logged, never
// propagated.
func (e *Engine) appendEvent(ctx context.Context, executionID, stepID, event, actorID string, data map[string]any, comment string) {
	err := e.store.AppendEvent(ctx, model.ExecutionEvent{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		StepID:      stepID,
		Event:       event,
		ActorID:     actorID,
		Data:        data,
		Comment:     comment,
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		e.logger.Error("appending audit event failed",
			zap.String("execution_id", executionID),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

func stepElapsed(se model.StepExecution, now time.Time) time.Duration {
	if se.StartedAt == nil || now.Before(*se.StartedAt) {
		return 0
	}
	return now.Sub(*se.StartedAt)
}
