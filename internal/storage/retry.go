package storage

import (
	"context"
	"time"
)

// OpenWithRetry calls Open up to maxAttempts times with exponential backoff
// (baseDelay, 2*baseDelay, ...). onRetry, when non-nil, is called after every
// failed attempt that will be retried.
//
// Errors:
//   - ErrInvalidMaxAttempts if maxAttempts <= 0.
//   - ctx.Err() if the context ends while waiting.
//   - Otherwise the error from the last attempt.
func OpenWithRetry(
	ctx context.Context,
	cfg Config,
	maxAttempts int,
	baseDelay time.Duration,
	onRetry func(attempt int, err error),
) (Store, error) {
	if maxAttempts <= 0 {
		return nil, ErrInvalidMaxAttempts
	}

	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		s, err := Open(ctx, cfg)
		if err == nil {
			return s, nil
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return nil, lastErr
}
