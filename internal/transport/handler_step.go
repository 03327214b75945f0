package transport

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/LinkingMx/Law-sub002/internal/engine"
	"github.com/LinkingMx/Law-sub002/model"
)

// StepHandler serves the step action surface: approve, reject, acknowledge.
type StepHandler struct {
	engine *engine.Engine
}

// NewStepHandler creates the step action handler.
func NewStepHandler(eng *engine.Engine) *StepHandler {
	return &StepHandler{engine: eng}
}

type stepActionRequest struct {
	Comment string `json:"comment"`
}

// Approve handles POST /api/steps/{stepExecutionId}/approve.
func (h *StepHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.engine.Approve)
}

// Reject handles POST /api/steps/{stepExecutionId}/reject.
func (h *StepHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.engine.Reject)
}

// Acknowledge handles POST /api/steps/{stepExecutionId}/acknowledge.
func (h *StepHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.engine.Acknowledge)
}

// WorkItems handles GET /api/work-items. Without an assignee query the
// caller's own queue is returned.
func (h *StepHandler) WorkItems(w http.ResponseWriter, r *http.Request) {
	assignee := r.URL.Query().Get("assignee")
	if assignee == "" {
		assignee = model.RequestContextFrom(r.Context()).Actor()
	}
	items, err := h.engine.WorkItems(r.Context(), assignee)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"work_items": items})
}

func (h *StepHandler) act(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, rctx *model.RequestContext, id, comment string) (model.WorkflowExecution, error)) {
	var body stepActionRequest
	_ = json.NewDecoder(r.Body).Decode(&body)

	rctx := model.RequestContextFrom(r.Context())
	exec, err := action(r.Context(), rctx, chi.URLParam(r, "stepExecutionId"), body.Comment)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, exec)
}
