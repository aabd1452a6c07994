package enricher

import (
	"context"
	"time"
)

// withRetry calls fn up to attempts times, each bounded by timeout, waiting
// delay*attemptNumber between tries (linear backoff).
func withRetry(ctx context.Context, attempts int, delay, timeout time.Duration, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		err = fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if attempt < attempts {
			select {
			case <-time.After(delay * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}
