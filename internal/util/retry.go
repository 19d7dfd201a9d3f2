package util

import (
	"context"
	"log/slog"
	"time"
)

// Retry calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay, logging each failed attempt under op. It is meant for connecting
// optional sinks at startup; market-data fetches are never retried.
func Retry(ctx context.Context, log *slog.Logger, op string, maxAttempts int, baseDelay time.Duration, fn func(context.Context) error) error {
	if log == nil {
		log = slog.Default()
	}
	var err error
	delay := baseDelay

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		log.Warn("attempt failed", "op", op, "attempt", attempt, "of", maxAttempts, "error", err)

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return err
}
