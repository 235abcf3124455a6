package errors

import (
	"context"
	"fmt"
	"time"
)

// Classifier decides whether a failed attempt may be retried. Transport
// faults (timeouts, 5xx, rate limits) return true; semantic faults
// (malformed output, rejected queries) return false.
type Classifier func(err error) bool

// RetryPolicy bounds retries around a network-bound call site. Both the
// query generator and the query executor share this helper with their own
// classifiers.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Classify     Classifier
}

// DefaultRetryPolicy mirrors the handler convention: three attempts,
// exponential backoff starting at 100ms.
func DefaultRetryPolicy(classify Classifier) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		Classify:     classify,
	}
}

// Do runs op until it succeeds, the classifier marks the error terminal,
// attempts are exhausted, or ctx is cancelled. The last error is returned
// for diagnostics.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.InitialDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("retry aborted: %w", ctx.Err())
			}
			delay *= 2
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if ctx.Err() != nil {
			return lastErr
		}

		if p.Classify != nil && !p.Classify(lastErr) {
			return lastErr
		}
	}

	return lastErr
}
