package approval

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/LinkingMx/Law-sub002/internal/observability"
	"github.com/LinkingMx/Law-sub002/model"
)

// recordingSink captures events forwarded after transitions.
type recordingSink struct {
	mu     sync.Mutex
	events []model.ModelEvent
}

func (s *recordingSink) HandleEvent(_ context.Context, _ *model.RequestContext, event model.ModelEvent) ([]model.WorkflowExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil, nil
}

func newTestService(t *testing.T) (*Service, *MemoryStore, *recordingSink) {
	t.Helper()
	store := NewMemoryStore()
	sink := &recordingSink{}
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	return NewService(store, sink, metrics, zap.NewNop()), store, sink
}

func editor() *model.RequestContext {
	return &model.RequestContext{SubjectID: "editor-1"}
}

func TestStateDefaultsToDraft(t *testing.T) {
	svc, _, _ := newTestService(t)

	rec, err := svc.State(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if rec.State != model.StateDraft {
		t.Errorf("State = %q, want draft for an untouched record", rec.State)
	}
}

func TestTransitionHappyPath(t *testing.T) {
	svc, _, sink := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Transition(ctx, editor(), "doc-1", model.StatePendingApproval, "listo para revisión")
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if rec.State != model.StatePendingApproval {
		t.Errorf("State = %q, want pending_approval", rec.State)
	}
	if rec.UpdatedBy != "editor-1" {
		t.Errorf("UpdatedBy = %q, want editor-1", rec.UpdatedBy)
	}

	if len(sink.events) != 1 {
		t.Fatalf("sink saw %d events, want 1", len(sink.events))
	}
	ev := sink.events[0]
	if ev.Model != "documentation" || ev.Event != model.EventUpdated {
		t.Errorf("event = %s/%s, want documentation/updated", ev.Model, ev.Event)
	}
	if !ev.WasChanged("approval_state") {
		t.Error("event does not mark approval_state as changed")
	}
	if ev.Snapshot["previous_approval_state"] != "draft" {
		t.Errorf("previous state = %v, want draft", ev.Snapshot["previous_approval_state"])
	}
	if ev.OccurredAt.IsZero() {
		t.Error("event OccurredAt is zero, want the transition time")
	}
}

func TestTransitionFullLifecycle(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	path := []model.ApprovalState{
		model.StatePendingApproval,
		model.StateApproved,
		model.StatePublished,
		model.StateArchived,
	}
	for _, target := range path {
		if _, err := svc.Transition(ctx, editor(), "doc-1", target, ""); err != nil {
			t.Fatalf("Transition(%s) error = %v", target, err)
		}
	}

	history, err := svc.History(ctx, "doc-1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != len(path) {
		t.Fatalf("history has %d entries, want %d", len(history), len(path))
	}
	if history[0].FromState != model.StateDraft || history[len(history)-1].ToState != model.StateArchived {
		t.Errorf("history endpoints = %s -> %s, want draft -> archived",
			history[0].FromState, history[len(history)-1].ToState)
	}
}

func TestTransitionInvalid(t *testing.T) {
	svc, _, sink := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		setup  []model.ApprovalState
		target model.ApprovalState
	}{
		{"draft to published", nil, model.StatePublished},
		{"draft to approved", nil, model.StateApproved},
		{"archived is final", []model.ApprovalState{
			model.StatePendingApproval, model.StateApproved,
			model.StatePublished, model.StateArchived,
		}, model.StateDraft},
		{"unknown state", nil, model.ApprovalState("en_limbo")},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recordID := string(rune('a' + i))
			for _, st := range tc.setup {
				if _, err := svc.Transition(ctx, editor(), recordID, st, ""); err != nil {
					t.Fatalf("setup Transition(%s) error = %v", st, err)
				}
			}
			before := len(sink.events)
			_, err := svc.Transition(ctx, editor(), recordID, tc.target, "")
			if !model.IsCode(err, model.ErrInvalidTransition) {
				t.Fatalf("Transition() error = %v, want INVALID_TRANSITION", err)
			}
			if len(sink.events) != before {
				t.Error("invalid transition leaked an event to the sink")
			}
		})
	}
}

func TestRejectedCanResubmit(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	steps := []model.ApprovalState{
		model.StatePendingApproval,
		model.StateRejected,
		model.StatePendingApproval,
		model.StateApproved,
	}
	for _, target := range steps {
		if _, err := svc.Transition(ctx, editor(), "doc-1", target, ""); err != nil {
			t.Fatalf("Transition(%s) error = %v", target, err)
		}
	}
}

func TestStatesCatalogue(t *testing.T) {
	svc, _, _ := newTestService(t)

	states := svc.States()
	if len(states) != 6 {
		t.Fatalf("got %d states, want 6", len(states))
	}
	if states[0].State != model.StateDraft || !states[0].Initial {
		t.Errorf("first state = %+v, want initial draft", states[0])
	}

	var archived StateDescriptor
	for _, sd := range states {
		if sd.State == model.StateArchived {
			archived = sd
		}
	}
	if !archived.Final || len(archived.Transitions) != 0 {
		t.Errorf("archived = %+v, want final with no transitions", archived)
	}

	for _, sd := range states {
		if sd.State == model.StatePendingApproval && !sd.Info.RequiresApproval {
			t.Error("pending_approval must require approval")
		}
	}
}
