package model

import "context"

// RequestContext carries identity and tracing information for the lifetime
// of an authenticated request. The engine records SubjectID as the initiator
// of executions it starts on a user's behalf; background work uses
// SystemContext. Immutable after construction.
type RequestContext struct {
	SubjectID     string
	Email         string
	Roles         []string
	Claims        map[string]any
	CorrelationID string
	TraceID       string
	Locale        string
}

// SystemContext returns the request context used by background work: the
// scheduler tick, cascade cancellations, and anything else not tied to a
// user request.
func SystemContext() *RequestContext {
	return &RequestContext{SubjectID: SystemActor}
}

// Actor returns the identity to record on audit entries: the subject ID, or
// "system" when none is present.
func (rc *RequestContext) Actor() string {
	if rc == nil || rc.SubjectID == "" {
		return SystemActor
	}
	return rc.SubjectID
}

// HasRole returns true if the RequestContext contains the given role.
func (rc *RequestContext) HasRole(role string) bool {
	for _, r := range rc.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or
// returns nil if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}
