package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/LinkingMx/Law-sub002/internal/config"
)

// SendWithRetry delivers a message, retrying failures with exponential
// backoff. onRetry is invoked before each retry attempt; pass nil to skip.
// The last error is returned after attempts are exhausted.
func SendWithRetry(ctx context.Context, d Dispatcher, msg Message, cfg config.RetryConfig, onRetry func()) error {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if onRetry != nil {
				onRetry()
			}
			delay := calculateBackoff(cfg, attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := d.Send(ctx, msg); err != nil {
			lastErr = err
			slog.Debug("notify: retrying after error",
				"channel", d.Channel(),
				"attempt", attempt+1,
				"max", maxAttempts,
				"error", err,
			)
			continue
		}
		return nil
	}
	return lastErr
}

// Backoff returns the delay before the given retry attempt (1-based).
func Backoff(cfg config.RetryConfig, attempt int) time.Duration {
	return calculateBackoff(cfg, attempt)
}

func calculateBackoff(cfg config.RetryConfig, attempt int) time.Duration {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 100 * time.Millisecond
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}

	delay := cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > cfg.BackoffMax {
			delay = cfg.BackoffMax
			break
		}
	}
	return delay
}
