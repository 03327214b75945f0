package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/LinkingMx/Law-sub002/internal/definition"
	"github.com/LinkingMx/Law-sub002/model"
)

// WorkflowHandler serves the workflow definition CRUD surface.
type WorkflowHandler struct {
	definitions *definition.Service
}

// NewWorkflowHandler creates the workflow definition handler.
func NewWorkflowHandler(definitions *definition.Service) *WorkflowHandler {
	return &WorkflowHandler{definitions: definitions}
}

// List handles GET /api/workflows.
func (h *WorkflowHandler) List(w http.ResponseWriter, r *http.Request) {
	filters := model.WorkflowFilters{
		TargetModel: r.URL.Query().Get("target_model"),
		ActiveOnly:  r.URL.Query().Get("active") == "true",
	}
	workflows, err := h.definitions.List(r.Context(), filters)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"workflows": workflows})
}

// Get handles GET /api/workflows/{workflowId}.
func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	wf, err := h.definitions.Get(r.Context(), chi.URLParam(r, "workflowId"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, wf)
}

// Create handles POST /api/workflows.
func (h *WorkflowHandler) Create(w http.ResponseWriter, r *http.Request) {
	var wf model.WorkflowDefinition
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	created, err := h.definitions.Create(r.Context(), wf)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, created)
}

// Update handles PUT /api/workflows/{workflowId}.
func (h *WorkflowHandler) Update(w http.ResponseWriter, r *http.Request) {
	var wf model.WorkflowDefinition
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	updated, err := h.definitions.Update(r.Context(), chi.URLParam(r, "workflowId"), wf)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/workflows/{workflowId}.
func (h *WorkflowHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.definitions.Delete(r.Context(), chi.URLParam(r, "workflowId")); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Duplicate handles POST /api/workflows/{workflowId}/duplicate.
func (h *WorkflowHandler) Duplicate(w http.ResponseWriter, r *http.Request) {
	dup, err := h.definitions.Duplicate(r.Context(), chi.URLParam(r, "workflowId"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, dup)
}

// Test handles POST /api/workflows/{workflowId}/test.
func (h *WorkflowHandler) Test(w http.ResponseWriter, r *http.Request) {
	report, err := h.definitions.Test(r.Context(), chi.URLParam(r, "workflowId"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}
