package resilience

import (
	"context"
	"time"
)

// RetryConfig controls exponential backoff retry of a transient operation.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Retry calls fn up to cfg.MaxRetries+1 times, doubling the delay between
// attempts starting at cfg.BaseDelay and capping at cfg.MaxDelay. shouldRetry
// classifies the error returned by fn; Retry stops immediately (without
// consuming a retry) when shouldRetry returns false, and stops without
// error translation when ctx is cancelled between attempts — cancellation
// at a suspension point must never look like a transient failure retried
// forever.
func Retry(ctx context.Context, cfg RetryConfig, shouldRetry func(error) bool, fn func(ctx context.Context) error) error {
	delay := cfg.BaseDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !shouldRetry(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxRetries {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return lastErr
}
