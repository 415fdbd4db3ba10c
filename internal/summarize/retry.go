package summarize

import (
	"context"
	"log/slog"
	"time"

	"github.com/thinkscotty/digest/internal/ai"
)

// retryTransient runs fn up to maxAttempts times, doubling the delay between
// attempts. Only transient provider errors are retried; permanent errors and
// context cancellation return immediately.
func retryTransient(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	delay := baseDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !ai.IsTransient(err) || attempt >= maxAttempts {
			return err
		}

		slog.Warn("Transient provider error, retrying",
			"attempt", attempt, "max_attempts", maxAttempts, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}
