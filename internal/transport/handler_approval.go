package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/LinkingMx/Law-sub002/internal/approval"
	"github.com/LinkingMx/Law-sub002/model"
)

// ApprovalHandler serves the documentation approval state surface.
type ApprovalHandler struct {
	approvals *approval.Service
}

// NewApprovalHandler creates the approval state handler.
func NewApprovalHandler(approvals *approval.Service) *ApprovalHandler {
	return &ApprovalHandler{approvals: approvals}
}

// States handles GET /api/approval-states.
func (h *ApprovalHandler) States(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"states": h.approvals.States()})
}

// Get handles GET /api/documents/{recordId}/approval.
func (h *ApprovalHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.approvals.State(r.Context(), chi.URLParam(r, "recordId"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

// History handles GET /api/documents/{recordId}/approval/history.
func (h *ApprovalHandler) History(w http.ResponseWriter, r *http.Request) {
	history, err := h.approvals.History(r.Context(), chi.URLParam(r, "recordId"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"transitions": history})
}

// Transition handles POST /api/documents/{recordId}/approval/transition.
func (h *ApprovalHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var body struct {
		State   string `json:"state"`
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	if body.State == "" {
		WriteBadRequest(w, "state is required")
		return
	}

	rctx := model.RequestContextFrom(r.Context())
	rec, err := h.approvals.Transition(r.Context(), rctx, chi.URLParam(r, "recordId"),
		model.ApprovalState(body.State), body.Comment)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}
