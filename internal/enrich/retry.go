package enrich

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig controls exponential backoff retry for failed recognition calls.
type RetryConfig struct {
	MaxRetries int           // max retry attempts (default 3, 0 = no retry)
	BaseDelay  time.Duration // initial backoff delay (default 1s)
	MaxDelay   time.Duration // maximum backoff delay (default 15s)
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   15 * time.Second,
	}
}

// executeWithRetry runs fn, retrying on error with exponential backoff
// plus jitter. Returns the first successful result or the last error
// after all retries. Context cancellation cuts the backoff short.
func executeWithRetry(ctx context.Context, cfg RetryConfig, fn func() ([]Fragment, error)) ([]Fragment, int, error) {
	var frags []Fragment
	var err error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		frags, err = fn()
		if err == nil {
			return frags, attempt + 1, nil
		}

		if attempt < cfg.MaxRetries {
			delay := backoffWithJitter(cfg.BaseDelay, cfg.MaxDelay, attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, attempt + 1, err
			}
		}
	}
	return nil, cfg.MaxRetries + 1, err
}

// backoffWithJitter computes delay = min(base * 2^attempt, max) + jitter(±25%).
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt) // base * 2^attempt
	if delay > max {
		delay = max
	}

	// Jitter: ±25% of delay
	quarter := delay / 4
	if quarter > 0 {
		jitter := time.Duration(rand.Int64N(int64(quarter*2))) - quarter
		delay += jitter
	}

	return delay
}
