// Package retry provides a bounded retry helper with a fixed delay and a
// caller-supplied retryable-error predicate. It replaces per-call-site
// sleep loops around ledger reads and transfer resubmission.
package retry

import (
	"context"
	"time"
)

// Do calls fn up to maxAttempts times, sleeping delay between attempts.
// It stops early when fn succeeds, when retryable reports the error as not
// worth retrying, or when ctx is cancelled. The last error is returned.
func Do(ctx context.Context, maxAttempts int, delay time.Duration, retryable func(error) bool, fn func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// Always treats every error as retryable.
func Always(error) bool { return true }
