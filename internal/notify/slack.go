package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/LinkingMx/Law-sub002/internal/config"
)

// SlackDispatcher delivers messages to a Slack incoming webhook. The webhook
// URL is read from the environment variable named in the configuration.
type SlackDispatcher struct {
	cfg    config.SlackConfig
	client *http.Client
}

// NewSlackDispatcher creates a SlackDispatcher from configuration.
func NewSlackDispatcher(cfg config.SlackConfig) *SlackDispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SlackDispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Channel implements Dispatcher.
func (d *SlackDispatcher) Channel() string { return ChannelSlack }

// Send implements Dispatcher. The recipient is ignored: an incoming webhook
// is bound to one channel on the Slack side.
func (d *SlackDispatcher) Send(ctx context.Context, msg Message) error {
	url := os.Getenv(d.cfg.WebhookURLEnv)
	if url == "" {
		return fmt.Errorf("slack: webhook URL env %s is not set", d.cfg.WebhookURLEnv)
	}

	text := msg.Body
	if msg.Subject != "" {
		text = "*" + msg.Subject + "*\n" + msg.Body
	}
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("slack: encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("slack: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack: posting webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("slack: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
