package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LinkingMx/Law-sub002/internal/observability"
	"github.com/LinkingMx/Law-sub002/model"
)

// EventSink receives a model lifecycle event after a successful transition,
// letting workflows trigger on approval state changes. The engine implements
// it.
type EventSink interface {
	HandleEvent(ctx context.Context, rctx *model.RequestContext, event model.ModelEvent) ([]model.WorkflowExecution, error)
}

// Service applies approval state transitions to documentation records.
type Service struct {
	store   Store
	sink    EventSink
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewService creates the approval service. sink may be nil.
func NewService(store Store, sink EventSink, metrics *observability.Metrics, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		sink:    sink,
		metrics: metrics,
		logger:  logger,
	}
}

// State returns the approval record for a documentation record. A record
// that never transitioned reads as a draft.
func (s *Service) State(ctx context.Context, recordID string) (Record, error) {
	rec, err := s.store.Get(ctx, recordID)
	if model.IsCode(err, model.ErrNotFound) {
		now := time.Now().UTC()
		return Record{
			RecordID:  recordID,
			State:     model.StateDraft,
			CreatedAt: now,
			UpdatedAt: now,
		}, nil
	}
	return rec, err
}

// History returns a record's transition history.
func (s *Service) History(ctx context.Context, recordID string) ([]Transition, error) {
	return s.store.GetTransitions(ctx, recordID)
}

// Transition moves a documentation record to the target state. The move must
// be allowed by the transition table; everything else returns
// INVALID_TRANSITION. A successful transition is appended to the history and
// surfaced to the event sink as an update of the documentation model.
func (s *Service) Transition(ctx context.Context, rctx *model.RequestContext, recordID string, target model.ApprovalState, comment string) (Record, error) {
	if !target.Valid() {
		return Record{}, model.NewInvalidTransitionError(
			fmt.Sprintf("unknown approval state %q", target),
		)
	}

	now := time.Now().UTC()

	rec, err := s.store.Get(ctx, recordID)
	created := false
	if model.IsCode(err, model.ErrNotFound) {
		rec = Record{
			RecordID:  recordID,
			State:     model.StateDraft,
			CreatedAt: now,
			UpdatedAt: now,
		}
		created = true
	} else if err != nil {
		return Record{}, err
	}

	from := rec.State
	if !from.CanTransitionTo(target) {
		return Record{}, model.NewInvalidTransitionError(
			fmt.Sprintf("cannot transition record %q from %s to %s", recordID, from, target),
		)
	}

	rec.State = target
	rec.UpdatedBy = rctx.Actor()
	rec.UpdatedAt = now
	if created {
		rec.Version = 1
		if err := s.store.Create(ctx, rec); err != nil {
			return Record{}, err
		}
	} else {
		if err := s.store.Update(ctx, rec); err != nil {
			return Record{}, err
		}
	}

	tr := Transition{
		ID:        uuid.New().String(),
		RecordID:  recordID,
		FromState: from,
		ToState:   target,
		ActorID:   rctx.Actor(),
		Comment:   comment,
		At:        now,
	}
	if err := s.store.AppendTransition(ctx, tr); err != nil {
		s.logger.Error("appending approval transition failed",
			zap.String("record_id", recordID),
			zap.Error(err),
		)
	}

	s.metrics.RecordApprovalTransition(string(from), string(target))
	s.logger.Info("approval state changed",
		zap.String("record_id", recordID),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.String("actor", rctx.Actor()),
	)

	if s.sink != nil {
		event := model.ModelEvent{
			Model: "documentation",
			ID:    recordID,
			Event: model.EventUpdated,
			Snapshot: map[string]any{
				"approval_state":          string(target),
				"previous_approval_state": string(from),
				"comment":                 comment,
			},
			Changed:    []string{"approval_state"},
			Actor:      rctx.Actor(),
			OccurredAt: now,
		}
		if _, err := s.sink.HandleEvent(ctx, rctx, event); err != nil {
			s.logger.Error("propagating approval event failed",
				zap.String("record_id", recordID),
				zap.Error(err),
			)
		}
	}

	got, err := s.store.Get(ctx, recordID)
	if err != nil {
		return rec, nil
	}
	return got, nil
}

// StateDescriptor is the catalogue entry for one approval state.
type StateDescriptor struct {
	State       model.ApprovalState     `json:"state"`
	Info        model.ApprovalStateInfo `json:"info"`
	Initial     bool                    `json:"initial"`
	Final       bool                    `json:"final"`
	Transitions []model.ApprovalState   `json:"transitions"`
}

// States returns the full state catalogue in lifecycle order.
func (s *Service) States() []StateDescriptor {
	states := model.AllApprovalStates()
	out := make([]StateDescriptor, 0, len(states))
	for _, st := range states {
		out = append(out, StateDescriptor{
			State:       st,
			Info:        st.Info(),
			Initial:     st.IsInitial(),
			Final:       st.IsFinal(),
			Transitions: st.Transitions(),
		})
	}
	return out
}
