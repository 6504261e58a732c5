package reliability

import (
	"context"
	"time"
)

// IsRetryableHTTPStatus classifies retryable upstream HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// Do runs fn up to attempts times, sleeping a capped exponential backoff
// between tries. fn reports whether its error is worth retrying; the last
// error is returned when attempts run out or the context ends first.
func Do(ctx context.Context, attempts int, base, cap time.Duration, fn func() (retryable bool, err error)) error {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		retryable, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable || attempt == attempts-1 {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ExponentialBackoff(attempt, base, cap)):
		}
	}
	return lastErr
}
