package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)
	if m == nil {
		t.Fatal("InitMetrics returned nil")
	}

	// Registering twice must panic on duplicates; a fresh registry is fine.
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	InitMetrics(reg)
}

func TestExecutionMetrics(t *testing.T) {
	m := InitMetrics(prometheus.NewRegistry())

	m.RecordExecutionStart("wf-1")
	m.RecordExecutionStart("wf-1")
	if got := testutil.ToFloat64(m.ExecutionsActive.WithLabelValues("wf-1")); got != 2 {
		t.Errorf("active = %v, want 2", got)
	}

	m.RecordExecutionCompletion("wf-1", "completed")
	if got := testutil.ToFloat64(m.ExecutionsActive.WithLabelValues("wf-1")); got != 1 {
		t.Errorf("active after completion = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ExecutionsCompletedTotal.WithLabelValues("wf-1", "completed")); got != 1 {
		t.Errorf("completed = %v, want 1", got)
	}
}

func TestStepAndDispatchMetrics(t *testing.T) {
	m := InitMetrics(prometheus.NewRegistry())

	m.RecordStepExecution("notification", "completed", 250*time.Millisecond)
	if got := testutil.ToFloat64(m.StepsExecutedTotal.WithLabelValues("notification", "completed")); got != 1 {
		t.Errorf("steps executed = %v, want 1", got)
	}

	m.RecordStepOverdue("approval")
	if got := testutil.ToFloat64(m.StepsOverdueTotal.WithLabelValues("approval")); got != 1 {
		t.Errorf("overdue = %v, want 1", got)
	}

	m.RecordNotification("mail", "success", 10*time.Millisecond)
	m.RecordNotification("mail", "failure", 10*time.Millisecond)
	if got := testutil.ToFloat64(m.NotificationsSentTotal.WithLabelValues("mail", "failure")); got != 1 {
		t.Errorf("failed notifications = %v, want 1", got)
	}

	m.RecordDispatchRetry("slack")
	if got := testutil.ToFloat64(m.DispatchRetriesTotal.WithLabelValues("slack")); got != 1 {
		t.Errorf("retries = %v, want 1", got)
	}
}

func TestApprovalTransitionMetric(t *testing.T) {
	m := InitMetrics(prometheus.NewRegistry())
	m.RecordApprovalTransition("draft", "pending_approval")
	if got := testutil.ToFloat64(m.ApprovalTransitionsTotal.WithLabelValues("draft", "pending_approval")); got != 1 {
		t.Errorf("transitions = %v, want 1", got)
	}
}

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	m := InitMetrics(prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/api/executions/{executionId}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/executions/abc-123", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/executions/{executionId}", "200"))
	if got != 1 {
		t.Errorf("requests for pattern = %v, want 1", got)
	}
}
