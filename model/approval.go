package model

// ApprovalState is a named node in a documentation record's fixed lifecycle.
type ApprovalState string

// The six documentation lifecycle states.
const (
	StateDraft           ApprovalState = "draft"
	StatePendingApproval ApprovalState = "pending_approval"
	StateApproved        ApprovalState = "approved"
	StateRejected        ApprovalState = "rejected"
	StatePublished       ApprovalState = "published"
	StateArchived        ApprovalState = "archived"
)

// approvalTransitions is the fixed transition table. Any pair not listed
// here is an invalid transition.
var approvalTransitions = map[ApprovalState][]ApprovalState{
	StateDraft:           {StatePendingApproval},
	StatePendingApproval: {StateApproved, StateRejected},
	StateApproved:        {StatePublished},
	StatePublished:       {StateArchived},
	StateRejected:        {StateDraft, StatePendingApproval},
}

// Valid reports whether s is one of the six known states.
func (s ApprovalState) Valid() bool {
	_, ok := approvalStateInfo[s]
	return ok
}

// CanTransitionTo reports whether the transition s → target is allowed.
func (s ApprovalState) CanTransitionTo(target ApprovalState) bool {
	for _, t := range approvalTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Transitions returns the states reachable from s.
func (s ApprovalState) Transitions() []ApprovalState {
	out := make([]ApprovalState, len(approvalTransitions[s]))
	copy(out, approvalTransitions[s])
	return out
}

// IsInitial reports whether s is the entry state of the lifecycle.
func (s ApprovalState) IsInitial() bool { return s == StateDraft }

// IsFinal reports whether s has no outgoing transitions.
func (s ApprovalState) IsFinal() bool { return len(approvalTransitions[s]) == 0 }

// ApprovalStateInfo is presentation metadata for a state. Display only; it
// carries no behavioral weight.
type ApprovalStateInfo struct {
	Label            string `json:"label"`
	Color            string `json:"color"`
	Icon             string `json:"icon"`
	Description      string `json:"description"`
	RequiresApproval bool   `json:"requires_approval"`
}

var approvalStateInfo = map[ApprovalState]ApprovalStateInfo{
	StateDraft: {
		Label:       "Borrador",
		Color:       "gray",
		Icon:        "pencil",
		Description: "Documento en edición, aún no enviado a revisión.",
	},
	StatePendingApproval: {
		Label:            "Pendiente de Aprobación",
		Color:            "amber",
		Icon:             "clock",
		Description:      "En espera de revisión por un aprobador.",
		RequiresApproval: true,
	},
	StateApproved: {
		Label:       "Aprobado",
		Color:       "green",
		Icon:        "check-circle",
		Description: "Revisado y aprobado, listo para publicarse.",
	},
	StateRejected: {
		Label:       "Rechazado",
		Color:       "red",
		Icon:        "x-circle",
		Description: "Rechazado en revisión; puede corregirse y reenviarse.",
	},
	StatePublished: {
		Label:       "Publicado",
		Color:       "blue",
		Icon:        "globe",
		Description: "Visible para los usuarios finales.",
	},
	StateArchived: {
		Label:       "Archivado",
		Color:       "slate",
		Icon:        "archive-box",
		Description: "Fuera de circulación, conservado como histórico.",
	},
}

// Info returns the presentation metadata for s. Unknown states return the
// zero value.
func (s ApprovalState) Info() ApprovalStateInfo {
	return approvalStateInfo[s]
}

// AllApprovalStates returns every state in lifecycle order.
func AllApprovalStates() []ApprovalState {
	return []ApprovalState{
		StateDraft,
		StatePendingApproval,
		StateApproved,
		StateRejected,
		StatePublished,
		StateArchived,
	}
}
