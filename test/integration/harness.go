// Package integration contains end-to-end tests that exercise the full
// HTTP surface against a running server with real JWT authentication,
// in-memory stores, and capturing notification dispatchers.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/LinkingMx/Law-sub002/internal/approval"
	"github.com/LinkingMx/Law-sub002/internal/config"
	"github.com/LinkingMx/Law-sub002/internal/definition"
	"github.com/LinkingMx/Law-sub002/internal/engine"
	"github.com/LinkingMx/Law-sub002/internal/notify"
	"github.com/LinkingMx/Law-sub002/internal/observability"
	"github.com/LinkingMx/Law-sub002/internal/transport"
)

// SentMessage is one notification captured by the harness dispatcher.
type SentMessage struct {
	Channel   string
	Recipient string
	Subject   string
	Body      string
}

// captureDispatcher records every message it is asked to deliver.
type captureDispatcher struct {
	channel string

	mu   sync.Mutex
	sent []SentMessage
}

func (d *captureDispatcher) Channel() string { return d.channel }

func (d *captureDispatcher) Send(_ context.Context, msg notify.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, SentMessage{
		Channel:   d.channel,
		Recipient: msg.Recipient,
		Subject:   msg.Subject,
		Body:      msg.Body,
	})
	return nil
}

func (d *captureDispatcher) messages() []SentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]SentMessage, len(d.sent))
	copy(out, d.sent)
	return out
}

// TestHarness wires the full server stack for integration tests.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	Engine     *engine.Engine
	Executions *engine.MemoryExecutionStore
	mail       *captureDispatcher
	slack      *captureDispatcher
}

// NewTestHarness starts a complete server with authentication enabled,
// in-memory stores, and capturing dispatchers for mail and slack.
func NewTestHarness(t *testing.T) *TestHarness {
	t.Helper()

	h := &TestHarness{t: t}

	// Step 1: Token issuer with a JWKS endpoint the server will trust.
	h.issuer = newTokenIssuer(t)

	cfg := config.Defaults()
	cfg.Identity.Issuer = h.issuer.issuer
	cfg.Identity.Audience = h.issuer.audience
	cfg.Identity.JWKSURL = h.issuer.jwksServer.URL

	logger := zap.NewNop()
	metrics := observability.InitMetrics(prometheus.NewRegistry())

	// Step 2: Stores and services backing the API.
	defStore := definition.NewMemoryStore()
	defService := definition.NewService(defStore, logger)
	execStore := engine.NewMemoryExecutionStore()
	h.Executions = execStore

	h.mail = &captureDispatcher{channel: notify.ChannelMail}
	h.slack = &captureDispatcher{channel: notify.ChannelSlack}
	registry := notify.Registry{}
	registry.Register(h.mail)
	registry.Register(h.slack)

	resolver := engine.NewConfigAssigneeResolver(config.AssigneesConfig{
		Roles: map[string][]string{
			"legal": {"lic.garcia", "lic.torres"},
			"admin": {"admin-001"},
		},
	})
	h.Engine = engine.NewEngine(defStore, execStore, registry, resolver, metrics, logger, cfg.Engine, cfg.Notify.DefaultLanguage)

	apprStore := approval.NewMemoryStore()
	apprService := approval.NewService(apprStore, h.Engine, metrics, logger)

	// Step 3: Router with the real authenticator, no test override.
	router := transport.NewRouter(transport.Dependencies{
		Config:      cfg,
		Logger:      logger,
		Metrics:     metrics,
		Definitions: defService,
		Engine:      h.Engine,
		Approvals:   apprService,
		Readiness: observability.ReadinessChecks{
			WorkflowsLoaded: func() bool { return true },
		},
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// SentMail returns every mail notification captured so far.
func (h *TestHarness) SentMail() []SentMessage {
	return h.mail.messages()
}

// SentSlack returns every slack notification captured so far.
func (h *TestHarness) SentSlack() []SentMessage {
	return h.slack.messages()
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// PUT performs an authenticated PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("PUT", path, body, token, nil)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("DELETE", path, nil, token, nil)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	url := h.server.URL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}
