package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest        = "BAD_REQUEST"
	ErrUnauthorized      = "UNAUTHORIZED"
	ErrForbidden         = "FORBIDDEN"
	ErrNotFound          = "NOT_FOUND"
	ErrConflict          = "CONFLICT"
	ErrValidationError   = "VALIDATION_ERROR"
	ErrInvalidTransition = "INVALID_TRANSITION"
	ErrInternalError     = "INTERNAL_ERROR"
)

// Engine-specific error codes.
const (
	ErrConfiguration      = "CONFIGURATION_ERROR"
	ErrDispatch           = "DISPATCH_ERROR"
	ErrExecutionNotActive = "EXECUTION_NOT_ACTIVE"
	ErrStepNotActionable  = "STEP_NOT_ACTIONABLE"
)

// ErrorEnvelope is the standard error response envelope returned by the
// service. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error. Used for optimistic-lock
// version conflicts: the losing advancer must treat it as a no-op.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInvalidTransitionError returns an INVALID_TRANSITION error. The stored
// state must be left untouched by the caller.
func NewInvalidTransitionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidTransition, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewConfigurationError returns a CONFIGURATION_ERROR: a workflow definition
// that cannot run (malformed trigger clause, no active steps, missing
// template). Surfaced to the admin UI as a warning.
func NewConfigurationError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConfiguration, Message: msg}
}

// NewDispatchError returns a DISPATCH_ERROR: a notification send that failed
// after retries were exhausted.
func NewDispatchError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrDispatch, Message: msg}
}

// NewExecutionNotActiveError returns an EXECUTION_NOT_ACTIVE error.
func NewExecutionNotActiveError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrExecutionNotActive, Message: msg}
}

// NewStepNotActionableError returns a STEP_NOT_ACTIONABLE error: an
// approve/reject/acknowledge call against a step that is not waiting for it.
func NewStepNotActionableError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrStepNotActionable, Message: msg}
}

// IsCode reports whether err is an ErrorEnvelope with the given code.
func IsCode(err error, code string) bool {
	ee, ok := err.(*ErrorEnvelope)
	return ok && ee.Code == code
}
