package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/LinkingMx/Law-sub002/internal/engine"
	"github.com/LinkingMx/Law-sub002/model"
)

// EventHandler receives model lifecycle events and feeds them to the engine.
type EventHandler struct {
	engine *engine.Engine
}

// NewEventHandler creates the event intake handler.
func NewEventHandler(eng *engine.Engine) *EventHandler {
	return &EventHandler{engine: eng}
}

// Handle handles POST /api/events. The response lists the executions the
// event started.
func (h *EventHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var event model.ModelEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	if event.Model == "" || event.ID == "" {
		WriteBadRequest(w, "model and id are required")
		return
	}
	switch event.Event {
	case model.EventCreated, model.EventUpdated, model.EventDeleted:
	default:
		WriteBadRequest(w, "event must be created, updated, or deleted")
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	rctx := model.RequestContextFrom(r.Context())
	started, err := h.engine.HandleEvent(r.Context(), rctx, event)
	if err != nil {
		WriteError(w, err)
		return
	}

	ids := make([]string, 0, len(started))
	for _, exec := range started {
		ids = append(ids, exec.ID)
	}
	WriteJSON(w, http.StatusAccepted, map[string]any{
		"started":    len(started),
		"executions": ids,
	})
}
