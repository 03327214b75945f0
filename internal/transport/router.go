package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/LinkingMx/Law-sub002/internal/approval"
	"github.com/LinkingMx/Law-sub002/internal/config"
	"github.com/LinkingMx/Law-sub002/internal/definition"
	"github.com/LinkingMx/Law-sub002/internal/engine"
	"github.com/LinkingMx/Law-sub002/internal/observability"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config      *config.Config
	Logger      *zap.Logger
	Metrics     *observability.Metrics
	Definitions *definition.Service
	Engine      *engine.Engine
	Approvals   *approval.Service
	Readiness   observability.ReadinessChecks

	// Authenticate overrides the configured authenticator; used by tests.
	Authenticate func(http.Handler) http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	// Global middleware, applied to all routes including health.
	r.Use(Recovery(deps.Logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes bypass authentication.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	r.Method(http.MethodGet, "/metrics", observability.Handler())

	auth := deps.Authenticate
	if auth == nil {
		auth = Authenticator(deps.Config.Identity, deps.Logger)
	}

	workflows := NewWorkflowHandler(deps.Definitions)
	events := NewEventHandler(deps.Engine)
	executions := NewExecutionHandler(deps.Engine)
	steps := NewStepHandler(deps.Engine)
	approvals := NewApprovalHandler(deps.Approvals)

	r.Route("/api", func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext)
		r.Use(observability.TracingMiddleware)
		r.Use(deps.Metrics.MetricsMiddleware)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(deps.Logger))

		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", workflows.List)
			r.Post("/", workflows.Create)
			r.Get("/{workflowId}", workflows.Get)
			r.Put("/{workflowId}", workflows.Update)
			r.Delete("/{workflowId}", workflows.Delete)
			r.Post("/{workflowId}/duplicate", workflows.Duplicate)
			r.Post("/{workflowId}/test", workflows.Test)
		})

		r.Post("/events", events.Handle)

		r.Route("/executions", func(r chi.Router) {
			r.Get("/", executions.List)
			r.Get("/{executionId}", executions.Get)
			r.Post("/{executionId}/cancel", executions.Cancel)
			r.Get("/{executionId}/events", executions.Events)
		})

		r.Route("/steps/{stepExecutionId}", func(r chi.Router) {
			r.Post("/approve", steps.Approve)
			r.Post("/reject", steps.Reject)
			r.Post("/acknowledge", steps.Acknowledge)
		})

		r.Get("/work-items", steps.WorkItems)

		r.Get("/approval-states", approvals.States)
		r.Route("/documents/{recordId}/approval", func(r chi.Router) {
			r.Get("/", approvals.Get)
			r.Get("/history", approvals.History)
			r.Post("/transition", approvals.Transition)
		})
	})

	return r
}
