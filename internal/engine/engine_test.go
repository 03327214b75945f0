package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/LinkingMx/Law-sub002/internal/config"
	"github.com/LinkingMx/Law-sub002/internal/definition"
	"github.com/LinkingMx/Law-sub002/internal/notify"
	"github.com/LinkingMx/Law-sub002/internal/observability"
	"github.com/LinkingMx/Law-sub002/model"
)

// capturingDispatcher records sent messages and can be told to fail.
type capturingDispatcher struct {
	channel string

	mu   sync.Mutex
	sent []notify.Message
	fail bool
}

func (d *capturingDispatcher) Channel() string { return d.channel }

func (d *capturingDispatcher) Send(_ context.Context, msg notify.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return errors.New("delivery refused")
	}
	d.sent = append(d.sent, msg)
	return nil
}

func (d *capturingDispatcher) messages() []notify.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]notify.Message, len(d.sent))
	copy(out, d.sent)
	return out
}

type testEngine struct {
	engine *Engine
	defs   *definition.MemoryStore
	store  *MemoryExecutionStore
	mail   *capturingDispatcher
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	defs := definition.NewMemoryStore()
	store := NewMemoryExecutionStore()
	mail := &capturingDispatcher{channel: notify.ChannelMail}
	registry := notify.Registry{}
	registry.Register(mail)

	resolver := NewConfigAssigneeResolver(config.AssigneesConfig{
		Roles: map[string][]string{"legal": {"lic.garcia", "lic.torres"}},
	})
	metrics := observability.InitMetrics(prometheus.NewRegistry())

	cfg := config.EngineConfig{
		MaxAdvanceSteps: 20,
		Dispatch: config.RetryConfig{
			MaxAttempts:       2,
			BackoffInitial:    time.Millisecond,
			BackoffMultiplier: 2,
			BackoffMax:        5 * time.Millisecond,
		},
		Webhook: config.WebhookConfig{Timeout: 2 * time.Second},
	}

	return &testEngine{
		engine: NewEngine(defs, store, registry, resolver, metrics, zap.NewNop(), cfg, "es"),
		defs:   defs,
		store:  store,
		mail:   mail,
	}
}

func (te *testEngine) seed(t *testing.T, wf model.WorkflowDefinition) model.WorkflowDefinition {
	t.Helper()
	if err := te.defs.Create(context.Background(), wf); err != nil {
		t.Fatalf("seeding workflow: %v", err)
	}
	return wf
}

func notificationWorkflow() model.WorkflowDefinition {
	return model.WorkflowDefinition{
		ID:            "wf-notif",
		Name:          "Aviso de contrato",
		Version:       1,
		TargetModel:   "documentation",
		IsActive:      true,
		TriggerEvents: []string{model.EventCreated},
		Steps: []model.StepDefinition{
			{
				ID:        "st-1",
				StepOrder: 1,
				StepName:  "Notificar al área legal",
				StepType:  model.StepTypeNotification,
				Active:    true,
				Templates: []model.StepTemplate{
					{Channel: notify.ChannelMail, Language: "es", Subject: "Nuevo documento: {{title}}", Body: "Se registró {{title}}."},
				},
				Recipients: []string{"{{owner_email}}"},
			},
		},
	}
}

func approvalWorkflow(onReject string) model.WorkflowDefinition {
	return model.WorkflowDefinition{
		ID:          "wf-appr",
		Name:        "Aprobación de contrato",
		Version:     1,
		TargetModel: "documentation",
		IsActive:    true,
		Steps: []model.StepDefinition{
			{
				ID:        "st-1",
				StepOrder: 1,
				StepName:  "Aprobación legal",
				StepType:  model.StepTypeApproval,
				Active:    true,
				Assignee:  &model.AssigneeConfig{Type: "role", Value: "legal"},
				OnReject:  onReject,
			},
			{
				ID:        "st-2",
				StepOrder: 2,
				StepName:  "Notificar resultado",
				StepType:  model.StepTypeNotification,
				Active:    true,
				Templates: []model.StepTemplate{
					{Channel: notify.ChannelMail, Language: "es", Subject: "Resultado", Body: "Proceso terminado."},
				},
				Recipients: []string{"archivo@despacho.mx"},
			},
		},
	}
}

func createdEvent() model.ModelEvent {
	return model.ModelEvent{
		Model: "documentation",
		ID:    "doc-7",
		Event: model.EventCreated,
		Snapshot: map[string]any{
			"title":       "Contrato marco",
			"owner_email": "dueno@despacho.mx",
		},
		Actor: "mgr-1",
	}
}

func TestHandleEventStartsAndCompletesNotificationWorkflow(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t, notificationWorkflow())
	ctx := context.Background()

	started, err := te.engine.HandleEvent(ctx, model.SystemContext(), createdEvent())
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if len(started) != 1 {
		t.Fatalf("started %d executions, want 1", len(started))
	}

	exec := started[0]
	if exec.Status != model.ExecutionStatusCompleted {
		t.Errorf("Status = %q, want %q", exec.Status, model.ExecutionStatusCompleted)
	}
	if exec.Initiator != "mgr-1" {
		t.Errorf("Initiator = %q, want %q", exec.Initiator, "mgr-1")
	}
	if exec.ContextData["target_id"] != "doc-7" {
		t.Errorf("ContextData[target_id] = %v, want doc-7", exec.ContextData["target_id"])
	}

	msgs := te.mail.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	if msgs[0].Recipient != "dueno@despacho.mx" {
		t.Errorf("Recipient = %q, want rendered owner_email", msgs[0].Recipient)
	}
	if msgs[0].Subject != "Nuevo documento: Contrato marco" {
		t.Errorf("Subject = %q, template not rendered", msgs[0].Subject)
	}

	steps, err := te.store.ListStepExecutions(ctx, exec.ID)
	if err != nil {
		t.Fatalf("ListStepExecutions() error = %v", err)
	}
	if len(steps) != 1 || steps[0].Status != model.StepStatusCompleted {
		t.Fatalf("steps = %+v, want one completed step", steps)
	}
	if len(steps[0].NotificationsSent) != 1 || !steps[0].NotificationsSent[0].Success {
		t.Errorf("NotificationsSent = %+v, want one successful record", steps[0].NotificationsSent)
	}
}

func TestHandleEventSkipsNonMatchingWorkflows(t *testing.T) {
	te := newTestEngine(t)

	wf := notificationWorkflow()
	wf.TriggerConditions = []model.TriggerCondition{
		{Field: "status", Operator: model.OperatorEquals, Value: "urgente"},
	}
	te.seed(t, wf)

	started, err := te.engine.HandleEvent(context.Background(), model.SystemContext(), createdEvent())
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if len(started) != 0 {
		t.Fatalf("started %d executions, want 0", len(started))
	}
}

func TestHandleEventWrongTriggerEvent(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t, notificationWorkflow())

	event := createdEvent()
	event.Event = model.EventUpdated

	started, err := te.engine.HandleEvent(context.Background(), model.SystemContext(), event)
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if len(started) != 0 {
		t.Fatalf("started %d executions for non-trigger event, want 0", len(started))
	}
}

func TestHandleEventDeletedCancelsActiveExecutions(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t, approvalWorkflow(""))
	ctx := context.Background()

	started, err := te.engine.HandleEvent(ctx, model.SystemContext(), createdEvent())
	if err != nil || len(started) != 1 {
		t.Fatalf("HandleEvent() = %v, %v; want one execution", started, err)
	}
	if started[0].Status != model.ExecutionStatusInProgress {
		t.Fatalf("Status = %q, want in_progress while approval waits", started[0].Status)
	}

	event := createdEvent()
	event.Event = model.EventDeleted
	if _, err := te.engine.HandleEvent(ctx, model.SystemContext(), event); err != nil {
		t.Fatalf("HandleEvent(deleted) error = %v", err)
	}

	exec, err := te.store.GetExecution(ctx, started[0].ID)
	if err != nil {
		t.Fatalf("GetExecution() error = %v", err)
	}
	if exec.Status != model.ExecutionStatusCancelled {
		t.Errorf("Status = %q, want cancelled after target deletion", exec.Status)
	}

	steps, _ := te.store.ListStepExecutions(ctx, exec.ID)
	if len(steps) != 1 || steps[0].Status != model.StepStatusCancelled {
		t.Errorf("steps = %+v, want the open approval cancelled", steps)
	}
}

func TestApprovalApproveAdvancesToCompletion(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t, approvalWorkflow(""))
	ctx := context.Background()

	started, err := te.engine.HandleEvent(ctx, model.SystemContext(), createdEvent())
	if err != nil || len(started) != 1 {
		t.Fatalf("HandleEvent() = %v, %v", started, err)
	}

	steps, _ := te.store.ListStepExecutions(ctx, started[0].ID)
	if len(steps) != 1 {
		t.Fatalf("got %d steps, want 1 open approval", len(steps))
	}
	approval := steps[0]
	if approval.Status != model.StepStatusInProgress {
		t.Fatalf("approval Status = %q, want in_progress", approval.Status)
	}
	if approval.AssignedTo != "lic.garcia" {
		t.Errorf("AssignedTo = %q, want first round-robin user", approval.AssignedTo)
	}

	rctx := &model.RequestContext{SubjectID: "lic.garcia"}
	exec, err := te.engine.Approve(ctx, rctx, approval.ID, "procede")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if exec.Status != model.ExecutionStatusCompleted {
		t.Errorf("Status = %q, want completed after approval", exec.Status)
	}

	steps, _ = te.store.ListStepExecutions(ctx, exec.ID)
	if len(steps) != 2 {
		t.Fatalf("got %d steps after approval, want 2", len(steps))
	}
	if steps[0].CompletedBy != "lic.garcia" || steps[0].Comments != "procede" {
		t.Errorf("approval record = %+v, want completed_by and comment set", steps[0])
	}

	desc, err := te.engine.Descriptor(ctx, exec.ID)
	if err != nil {
		t.Fatalf("Descriptor() error = %v", err)
	}
	if desc.Progress != 100 {
		t.Errorf("Progress = %d, want 100", desc.Progress)
	}
}

func TestApprovalRejectHaltFailsExecution(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t, approvalWorkflow(model.OnRejectHalt))
	ctx := context.Background()

	started, _ := te.engine.HandleEvent(ctx, model.SystemContext(), createdEvent())
	steps, _ := te.store.ListStepExecutions(ctx, started[0].ID)

	rctx := &model.RequestContext{SubjectID: "lic.torres"}
	exec, err := te.engine.Reject(ctx, rctx, steps[0].ID, "falta anexo")
	if err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	if exec.Status != model.ExecutionStatusFailed {
		t.Errorf("Status = %q, want failed", exec.Status)
	}

	steps, _ = te.store.ListStepExecutions(ctx, exec.ID)
	if steps[0].Status != model.StepStatusFailed {
		t.Errorf("step Status = %q, want failed", steps[0].Status)
	}
	if len(te.mail.messages()) != 0 {
		t.Errorf("notification step ran after halting rejection")
	}
}

func TestApprovalRejectContinueAdvances(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t, approvalWorkflow(model.OnRejectContinue))
	ctx := context.Background()

	started, _ := te.engine.HandleEvent(ctx, model.SystemContext(), createdEvent())
	steps, _ := te.store.ListStepExecutions(ctx, started[0].ID)

	rctx := &model.RequestContext{SubjectID: "lic.torres"}
	exec, err := te.engine.Reject(ctx, rctx, steps[0].ID, "falta anexo")
	if err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	if exec.Status != model.ExecutionStatusCompleted {
		t.Errorf("Status = %q, want completed past the rejection", exec.Status)
	}

	steps, _ = te.store.ListStepExecutions(ctx, exec.ID)
	if steps[0].Status != model.StepStatusSkipped {
		t.Errorf("rejected step Status = %q, want skipped", steps[0].Status)
	}
	if len(te.mail.messages()) != 1 {
		t.Errorf("notification step did not run after continue rejection")
	}

	result, ok := exec.StepResultFor(1)
	if !ok || result.Detail != "rejected by lic.torres" {
		t.Errorf("step result = %+v, want rejection recorded", result)
	}

	desc, _ := te.engine.Descriptor(ctx, exec.ID)
	if desc.Progress != 100 {
		t.Errorf("Progress = %d, want 100 for a completed execution", desc.Progress)
	}
}

func TestApproveRejectedTwiceNotActionable(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t, approvalWorkflow(""))
	ctx := context.Background()

	started, _ := te.engine.HandleEvent(ctx, model.SystemContext(), createdEvent())
	steps, _ := te.store.ListStepExecutions(ctx, started[0].ID)

	rctx := &model.RequestContext{SubjectID: "lic.garcia"}
	if _, err := te.engine.Approve(ctx, rctx, steps[0].ID, ""); err != nil {
		t.Fatalf("first Approve() error = %v", err)
	}
	_, err := te.engine.Approve(ctx, rctx, steps[0].ID, "")
	if !model.IsCode(err, model.ErrStepNotActionable) {
		t.Fatalf("second Approve() error = %v, want STEP_NOT_ACTIONABLE", err)
	}
}

func TestAssignmentWithoutAckCompletesImmediately(t *testing.T) {
	te := newTestEngine(t)
	wf := approvalWorkflow("")
	wf.Steps[0].StepType = model.StepTypeAssignment
	te.seed(t, wf)
	ctx := context.Background()

	started, _ := te.engine.HandleEvent(ctx, model.SystemContext(), createdEvent())
	if started[0].Status != model.ExecutionStatusCompleted {
		t.Fatalf("Status = %q, want completed", started[0].Status)
	}

	steps, _ := te.store.ListStepExecutions(ctx, started[0].ID)
	if steps[0].Status != model.StepStatusCompleted || steps[0].AssignedTo == "" {
		t.Errorf("assignment step = %+v, want completed with assignee", steps[0])
	}
	if steps[0].CompletedBy != model.SystemActor {
		t.Errorf("CompletedBy = %q, want system", steps[0].CompletedBy)
	}
}

func TestAssignmentRequireAck(t *testing.T) {
	te := newTestEngine(t)
	wf := approvalWorkflow("")
	wf.Steps[0].StepType = model.StepTypeAssignment
	wf.Steps[0].RequireAck = true
	te.seed(t, wf)
	ctx := context.Background()

	started, _ := te.engine.HandleEvent(ctx, model.SystemContext(), createdEvent())
	steps, _ := te.store.ListStepExecutions(ctx, started[0].ID)
	if steps[0].Status != model.StepStatusInProgress {
		t.Fatalf("step Status = %q, want in_progress awaiting ack", steps[0].Status)
	}

	rctx := &model.RequestContext{SubjectID: "lic.garcia"}
	exec, err := te.engine.Acknowledge(ctx, rctx, steps[0].ID, "recibido")
	if err != nil {
		t.Fatalf("Acknowledge() error = %v", err)
	}
	if exec.Status != model.ExecutionStatusCompleted {
		t.Errorf("Status = %q, want completed after ack", exec.Status)
	}
}

func TestDelayStepCompletesOnDueScan(t *testing.T) {
	te := newTestEngine(t)
	wf := notificationWorkflow()
	wf.Steps = append([]model.StepDefinition{{
		ID:        "st-0",
		StepOrder: 1,
		StepName:  "Espera de gracia",
		StepType:  model.StepTypeDelay,
		Active:    true,
		Delay:     "1ms",
	}}, wf.Steps...)
	wf.Steps[1].StepOrder = 2
	te.seed(t, wf)
	ctx := context.Background()

	started, _ := te.engine.HandleEvent(ctx, model.SystemContext(), createdEvent())
	if started[0].Status != model.ExecutionStatusInProgress {
		t.Fatalf("Status = %q, want in_progress during delay", started[0].Status)
	}

	time.Sleep(5 * time.Millisecond)
	if err := te.engine.ProcessDue(ctx); err != nil {
		t.Fatalf("ProcessDue() error = %v", err)
	}

	exec, _ := te.store.GetExecution(ctx, started[0].ID)
	if exec.Status != model.ExecutionStatusCompleted {
		t.Errorf("Status = %q, want completed after due scan", exec.Status)
	}
	if len(te.mail.messages()) != 1 {
		t.Errorf("notification step did not run after the delay elapsed")
	}
}

func TestOverdueApprovalFlaggedOnce(t *testing.T) {
	te := newTestEngine(t)
	wf := approvalWorkflow("")
	wf.Steps[0].SLA = "1ms"
	te.seed(t, wf)
	ctx := context.Background()

	started, _ := te.engine.HandleEvent(ctx, model.SystemContext(), createdEvent())
	time.Sleep(5 * time.Millisecond)

	if err := te.engine.ProcessDue(ctx); err != nil {
		t.Fatalf("ProcessDue() error = %v", err)
	}
	steps, _ := te.store.ListStepExecutions(ctx, started[0].ID)
	if steps[0].OverdueFlaggedAt == nil {
		t.Fatal("OverdueFlaggedAt not set after due scan")
	}
	if steps[0].Status != model.StepStatusInProgress {
		t.Errorf("overdue approval Status = %q, must stay in_progress", steps[0].Status)
	}
	first := *steps[0].OverdueFlaggedAt

	if err := te.engine.ProcessDue(ctx); err != nil {
		t.Fatalf("second ProcessDue() error = %v", err)
	}
	steps, _ = te.store.ListStepExecutions(ctx, started[0].ID)
	if !steps[0].OverdueFlaggedAt.Equal(first) {
		t.Error("OverdueFlaggedAt changed on second scan, want flag-once")
	}

	events, _ := te.store.GetEvents(ctx, started[0].ID)
	overdue := 0
	for _, ev := range events {
		if ev.Event == "step_overdue" {
			overdue++
		}
	}
	if overdue != 1 {
		t.Errorf("recorded %d step_overdue events, want 1", overdue)
	}
}

func TestNonBlockingDispatchFailureSkips(t *testing.T) {
	te := newTestEngine(t)
	te.mail.fail = true

	wf := notificationWorkflow()
	wf.Steps[0].NonBlocking = true
	te.seed(t, wf)
	ctx := context.Background()

	started, _ := te.engine.HandleEvent(ctx, model.SystemContext(), createdEvent())
	if started[0].Status != model.ExecutionStatusCompleted {
		t.Fatalf("Status = %q, want completed past the skipped step", started[0].Status)
	}

	steps, _ := te.store.ListStepExecutions(ctx, started[0].ID)
	if steps[0].Status != model.StepStatusSkipped {
		t.Errorf("step Status = %q, want skipped", steps[0].Status)
	}

	desc, _ := te.engine.Descriptor(ctx, started[0].ID)
	if desc.Progress != 100 {
		t.Errorf("Progress = %d, want 100 with a skipped step", desc.Progress)
	}
}

func TestBlockingDispatchFailureFailsExecution(t *testing.T) {
	te := newTestEngine(t)
	te.mail.fail = true
	te.seed(t, notificationWorkflow())
	ctx := context.Background()

	started, _ := te.engine.HandleEvent(ctx, model.SystemContext(), createdEvent())
	if started[0].Status != model.ExecutionStatusFailed {
		t.Fatalf("Status = %q, want failed", started[0].Status)
	}

	result, ok := started[0].StepResultFor(1)
	if !ok || result.Status != model.StepStatusFailed {
		t.Errorf("step result = %+v, want failure recorded", result)
	}
}

func TestWebhookStepDelivers(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding webhook payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	te := newTestEngine(t)
	wf := notificationWorkflow()
	wf.Steps = []model.StepDefinition{{
		ID:        "st-1",
		StepOrder: 1,
		StepName:  "Avisar al sistema externo",
		StepType:  model.StepTypeWebhook,
		Active:    true,
		Webhook:   &model.WebhookConfig{URL: srv.URL},
	}}
	te.seed(t, wf)

	started, _ := te.engine.HandleEvent(context.Background(), model.SystemContext(), createdEvent())
	if started[0].Status != model.ExecutionStatusCompleted {
		t.Fatalf("Status = %q, want completed", started[0].Status)
	}
	if got["target_id"] != "doc-7" {
		t.Errorf("payload target_id = %v, want doc-7", got["target_id"])
	}
	if got["execution_id"] != started[0].ID {
		t.Errorf("payload execution_id = %v, want %s", got["execution_id"], started[0].ID)
	}
}

func TestWebhookStepRetriesThenFails(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	te := newTestEngine(t)
	wf := notificationWorkflow()
	wf.Steps = []model.StepDefinition{{
		ID:        "st-1",
		StepOrder: 1,
		StepName:  "Avisar al sistema externo",
		StepType:  model.StepTypeWebhook,
		Active:    true,
		Webhook:   &model.WebhookConfig{URL: srv.URL},
	}}
	te.seed(t, wf)

	started, _ := te.engine.HandleEvent(context.Background(), model.SystemContext(), createdEvent())
	if started[0].Status != model.ExecutionStatusFailed {
		t.Fatalf("Status = %q, want failed", started[0].Status)
	}
	if attempts != 2 {
		t.Errorf("server saw %d attempts, want 2", attempts)
	}

	result, _ := started[0].StepResultFor(1)
	if !strings.Contains(result.Detail, "500") {
		t.Errorf("result Detail = %q, want the status code", result.Detail)
	}
}

func TestCancelExecution(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t, approvalWorkflow(""))
	ctx := context.Background()

	started, _ := te.engine.HandleEvent(ctx, model.SystemContext(), createdEvent())

	rctx := &model.RequestContext{SubjectID: "admin-1"}
	exec, err := te.engine.Cancel(ctx, rctx, started[0].ID, "ya no aplica")
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if exec.Status != model.ExecutionStatusCancelled {
		t.Errorf("Status = %q, want cancelled", exec.Status)
	}

	_, err = te.engine.Cancel(ctx, rctx, started[0].ID, "otra vez")
	if !model.IsCode(err, model.ErrExecutionNotActive) {
		t.Fatalf("second Cancel() error = %v, want EXECUTION_NOT_ACTIVE", err)
	}
}

func TestEventsAuditTrail(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t, notificationWorkflow())
	ctx := context.Background()

	started, _ := te.engine.HandleEvent(ctx, model.SystemContext(), createdEvent())

	events, err := te.engine.Events(ctx, started[0].ID)
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}

	var kinds []string
	for _, ev := range events {
		kinds = append(kinds, ev.Event)
	}
	want := []string{"execution_started", "step_completed", "execution_completed"}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, kinds[i], want[i])
		}
	}
}

func TestEventsUnknownExecution(t *testing.T) {
	te := newTestEngine(t)
	_, err := te.engine.Events(context.Background(), "missing")
	if !model.IsCode(err, model.ErrNotFound) {
		t.Fatalf("Events() error = %v, want NOT_FOUND", err)
	}
}

func TestStartWithNoActiveStepsCompletesImmediately(t *testing.T) {
	te := newTestEngine(t)
	wf := notificationWorkflow()
	wf.Steps[0].Active = false
	te.seed(t, wf)

	started, err := te.engine.HandleEvent(context.Background(), model.SystemContext(), createdEvent())
	if err != nil || len(started) != 1 {
		t.Fatalf("HandleEvent() = %v, %v", started, err)
	}
	if started[0].Status != model.ExecutionStatusCompleted {
		t.Errorf("Status = %q, want completed with nothing to run", started[0].Status)
	}
}

func TestGlobalVariablesSeedContextData(t *testing.T) {
	te := newTestEngine(t)
	wf := notificationWorkflow()
	wf.GlobalVariables = map[string]any{"despacho": "García y Asociados", "title": "global"}
	wf.Steps[0].Templates[0].Body = "{{despacho}}: {{title}}"
	te.seed(t, wf)

	started, _ := te.engine.HandleEvent(context.Background(), model.SystemContext(), createdEvent())
	if started[0].ContextData["despacho"] != "García y Asociados" {
		t.Errorf("global variable missing from context data")
	}

	msgs := te.mail.messages()
	if len(msgs) != 1 || msgs[0].Body != "García y Asociados: Contrato marco" {
		t.Fatalf("Body = %q, want snapshot to shadow the global variable", msgs[0].Body)
	}
}

func TestWorkItemsListsAssignedOpenSteps(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t, approvalWorkflow(""))
	ctx := context.Background()

	started, err := te.engine.HandleEvent(ctx, model.SystemContext(), createdEvent())
	if err != nil || len(started) != 1 {
		t.Fatalf("HandleEvent() = %v, %v", started, err)
	}

	items, err := te.engine.WorkItems(ctx, "lic.garcia")
	if err != nil {
		t.Fatalf("WorkItems() error = %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d work items, want 1", len(items))
	}
	if items[0].Step.StepType != model.StepTypeApproval || items[0].Execution.ID != started[0].ID {
		t.Errorf("work item = %+v, want the open approval of the started execution", items[0])
	}

	if other, _ := te.engine.WorkItems(ctx, "lic.torres"); len(other) != 0 {
		t.Errorf("got %d work items for an unassigned user, want 0", len(other))
	}

	rctx := &model.RequestContext{SubjectID: "lic.garcia"}
	if _, err := te.engine.Approve(ctx, rctx, items[0].Step.ID, ""); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if items, _ = te.engine.WorkItems(ctx, "lic.garcia"); len(items) != 0 {
		t.Errorf("got %d work items after approval, want empty queue", len(items))
	}
}
