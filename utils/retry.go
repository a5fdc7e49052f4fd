package utils

import (
	"context"
	"time"
)

// RetryWithBackoff runs fn up to maxAttempts times, sleeping backoff between
// attempts. It returns nil on the first success, the last error after the
// attempts are exhausted, or ctx.Err() if the context ends while waiting.
// The attempt counter and backoff are explicit parameters on purpose; callers
// own the retry policy, not the transport.
func RetryWithBackoff(ctx context.Context, maxAttempts int, backoff time.Duration, fn func(attempt int) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}
