package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets     = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	dispatchDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	// Step durations span from sub-second automated steps to multi-day
	// approvals.
	stepDurationBuckets = []float64{0.1, 1, 10, 60, 600, 3600, 21600, 86400, 259200}
)

// Metrics holds all Prometheus metric instruments for the workflow service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Trigger metrics
	TriggerEventsTotal     *prometheus.CounterVec
	TriggerMatchesTotal    *prometheus.CounterVec
	TriggerEvalErrorsTotal *prometheus.CounterVec

	// Execution metrics
	ExecutionsStartedTotal   *prometheus.CounterVec
	ExecutionsCompletedTotal *prometheus.CounterVec
	ExecutionsActive         *prometheus.GaugeVec
	StepsExecutedTotal       *prometheus.CounterVec
	StepDuration             *prometheus.HistogramVec
	StepsOverdueTotal        *prometheus.CounterVec

	// Dispatch metrics
	NotificationsSentTotal *prometheus.CounterVec
	DispatchDuration       *prometheus.HistogramVec
	DispatchRetriesTotal   *prometheus.CounterVec

	// Approval metrics
	ApprovalTransitionsTotal *prometheus.CounterVec

	// System metrics
	WorkflowsLoaded prometheus.Gauge
	DueScanDuration prometheus.Histogram
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lawsub_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lawsub_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lawsub_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: []float64{100, 1024, 10240, 102400, 1048576},
		}, []string{"method", "path_pattern"}),

		// Triggers
		TriggerEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lawsub_trigger_events_total",
			Help: "Total number of model lifecycle events received.",
		}, []string{"model", "event"}),
		TriggerMatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lawsub_trigger_matches_total",
			Help: "Total number of trigger evaluations that started an execution.",
		}, []string{"workflow_id"}),
		TriggerEvalErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lawsub_trigger_eval_errors_total",
			Help: "Total number of trigger condition evaluation errors.",
		}, []string{"workflow_id"}),

		// Executions
		ExecutionsStartedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lawsub_executions_started_total",
			Help: "Total number of workflow executions started.",
		}, []string{"workflow_id"}),
		ExecutionsCompletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lawsub_executions_completed_total",
			Help: "Total number of workflow executions reaching a terminal status.",
		}, []string{"workflow_id", "final_status"}),
		ExecutionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lawsub_executions_active",
			Help: "Number of active workflow executions.",
		}, []string{"workflow_id"}),
		StepsExecutedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lawsub_steps_executed_total",
			Help: "Total number of step executions reaching a terminal status.",
		}, []string{"step_type", "status"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lawsub_step_duration_seconds",
			Help:    "Step execution duration in seconds.",
			Buckets: stepDurationBuckets,
		}, []string{"step_type"}),
		StepsOverdueTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lawsub_steps_overdue_total",
			Help: "Total number of step executions flagged overdue.",
		}, []string{"step_type"}),

		// Dispatch
		NotificationsSentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lawsub_notifications_sent_total",
			Help: "Total number of notification dispatch outcomes.",
		}, []string{"channel", "status"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lawsub_dispatch_duration_seconds",
			Help:    "Notification dispatch duration in seconds.",
			Buckets: dispatchDurationBuckets,
		}, []string{"channel"}),
		DispatchRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lawsub_dispatch_retries_total",
			Help: "Total number of notification dispatch retries.",
		}, []string{"channel"}),

		// Approvals
		ApprovalTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lawsub_approval_transitions_total",
			Help: "Total number of documentation record state transitions.",
		}, []string{"from", "to"}),

		// System
		WorkflowsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lawsub_workflows_loaded",
			Help: "Number of active workflow definitions.",
		}),
		DueScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lawsub_due_scan_duration_seconds",
			Help:    "Due step scan duration in seconds.",
			Buckets: dispatchDurationBuckets,
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSizeBytes,
		m.TriggerEventsTotal,
		m.TriggerMatchesTotal,
		m.TriggerEvalErrorsTotal,
		m.ExecutionsStartedTotal,
		m.ExecutionsCompletedTotal,
		m.ExecutionsActive,
		m.StepsExecutedTotal,
		m.StepDuration,
		m.StepsOverdueTotal,
		m.NotificationsSentTotal,
		m.DispatchDuration,
		m.DispatchRetriesTotal,
		m.ApprovalTransitionsTotal,
		m.WorkflowsLoaded,
		m.DueScanDuration,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordTriggerEvent records a received model lifecycle event.
func (m *Metrics) RecordTriggerEvent(modelName, event string) {
	m.TriggerEventsTotal.WithLabelValues(modelName, event).Inc()
}

// RecordTriggerMatch records a trigger evaluation that started an execution.
func (m *Metrics) RecordTriggerMatch(workflowID string) {
	m.TriggerMatchesTotal.WithLabelValues(workflowID).Inc()
}

// RecordTriggerEvalError records a trigger condition evaluation error.
func (m *Metrics) RecordTriggerEvalError(workflowID string) {
	m.TriggerEvalErrorsTotal.WithLabelValues(workflowID).Inc()
}

// RecordExecutionStart records an execution start.
func (m *Metrics) RecordExecutionStart(workflowID string) {
	m.ExecutionsStartedTotal.WithLabelValues(workflowID).Inc()
	m.ExecutionsActive.WithLabelValues(workflowID).Inc()
}

// RecordExecutionCompletion records an execution reaching a terminal status.
func (m *Metrics) RecordExecutionCompletion(workflowID, finalStatus string) {
	m.ExecutionsCompletedTotal.WithLabelValues(workflowID, finalStatus).Inc()
	m.ExecutionsActive.WithLabelValues(workflowID).Dec()
}

// RecordStepExecution records a step reaching a terminal status.
func (m *Metrics) RecordStepExecution(stepType, status string, duration time.Duration) {
	m.StepsExecutedTotal.WithLabelValues(stepType, status).Inc()
	m.StepDuration.WithLabelValues(stepType).Observe(duration.Seconds())
}

// RecordStepOverdue records a step being flagged overdue.
func (m *Metrics) RecordStepOverdue(stepType string) {
	m.StepsOverdueTotal.WithLabelValues(stepType).Inc()
}

// RecordNotification records a notification dispatch outcome.
func (m *Metrics) RecordNotification(channel, status string, duration time.Duration) {
	m.NotificationsSentTotal.WithLabelValues(channel, status).Inc()
	m.DispatchDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordDispatchRetry records a notification dispatch retry.
func (m *Metrics) RecordDispatchRetry(channel string) {
	m.DispatchRetriesTotal.WithLabelValues(channel).Inc()
}

// RecordApprovalTransition records a documentation record state transition.
func (m *Metrics) RecordApprovalTransition(from, to string) {
	m.ApprovalTransitionsTotal.WithLabelValues(from, to).Inc()
}

// SetWorkflowsLoaded sets the number of active workflow definitions.
func (m *Metrics) SetWorkflowsLoaded(count float64) {
	m.WorkflowsLoaded.Set(count)
}

// RecordDueScan records a due step scan.
func (m *Metrics) RecordDueScan(duration time.Duration) {
	m.DueScanDuration.Observe(duration.Seconds())
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, duration, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
