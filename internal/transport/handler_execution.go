package transport

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/LinkingMx/Law-sub002/internal/engine"
	"github.com/LinkingMx/Law-sub002/model"
)

// ExecutionHandler serves the execution monitoring and control surface.
type ExecutionHandler struct {
	engine *engine.Engine
}

// NewExecutionHandler creates the execution handler.
func NewExecutionHandler(eng *engine.Engine) *ExecutionHandler {
	return &ExecutionHandler{engine: eng}
}

// List handles GET /api/executions.
func (h *ExecutionHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := model.ExecutionFilters{
		WorkflowID:  q.Get("workflow_id"),
		Status:      q.Get("status"),
		TargetModel: q.Get("target_model"),
		TargetID:    q.Get("target_id"),
		Page:        intQuery(q.Get("page")),
		PageSize:    intQuery(q.Get("page_size")),
	}

	executions, total, err := h.engine.List(r.Context(), filters)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"executions": executions,
		"total":      total,
	})
}

// Get handles GET /api/executions/{executionId}. The response is the full
// descriptor: execution, progress percentage, elapsed time, and steps.
func (h *ExecutionHandler) Get(w http.ResponseWriter, r *http.Request) {
	desc, err := h.engine.Descriptor(r.Context(), chi.URLParam(r, "executionId"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, desc)
}

// Cancel handles POST /api/executions/{executionId}/cancel.
func (h *ExecutionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	// An empty body is allowed; the reason is optional.
	_ = json.NewDecoder(r.Body).Decode(&body)

	rctx := model.RequestContextFrom(r.Context())
	exec, err := h.engine.Cancel(r.Context(), rctx, chi.URLParam(r, "executionId"), body.Reason)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, exec)
}

// Events handles GET /api/executions/{executionId}/events.
func (h *ExecutionHandler) Events(w http.ResponseWriter, r *http.Request) {
	events, err := h.engine.Events(r.Context(), chi.URLParam(r, "executionId"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

func intQuery(raw string) int {
	n, _ := strconv.Atoi(raw)
	return n
}
