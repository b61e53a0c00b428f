// Package retry runs an operation against a fixed backoff schedule.
package retry

import (
	"context"
	"time"

	merrors "github.com/aura-webinar/session-migrator/internal/errors"
)

// Config holds retry configuration. Delays[i] is the wait before retry i+1, so an
// operation runs at most len(Delays)+1 times.
type Config struct {
	Delays    []time.Duration
	Retryable func(error) bool
}

// DefaultDelays is the destination host's TUS retry schedule.
var DefaultDelays = []time.Duration{
	0, 3 * time.Second, 5 * time.Second, 10 * time.Second, 20 * time.Second, time.Minute, time.Minute,
}

// DefaultConfig returns the default schedule retrying only transient errors.
func DefaultConfig() Config {
	return Config{Delays: DefaultDelays, Retryable: merrors.IsRetryable}
}

// Do executes fn, retrying per the schedule while the error is retryable.
// attempt is zero-based.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context, attempt int) error) error {
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = merrors.IsRetryable
	}
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if attempt >= len(cfg.Delays) || !retryable(lastErr) {
			return lastErr
		}
		if err := Sleep(ctx, cfg.Delays[attempt]); err != nil {
			return lastErr
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
