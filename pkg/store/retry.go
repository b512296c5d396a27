package store

import (
	"context"
	"time"

	"github.com/cuemby/engineeye/pkg/enginerr"
)

// retryPolicy is exponential backoff, transient-errors-only, with a hard
// attempt cap. It never retries a Cancelled error: that kind means the
// caller asked for the operation to stop, not that it failed.
type retryPolicy struct {
	initialDelay time.Duration
	multiplier   float64
	maxDelay     time.Duration
	maxAttempts  int
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		initialDelay: time.Second,
		multiplier:   2,
		maxDelay:     10 * time.Second,
		maxAttempts:  3,
	}
}

// do runs fn up to p.maxAttempts times, sleeping an exponentially growing
// delay between attempts, but only when the returned error is transient.
// A non-transient error (including Cancelled) returns immediately.
func (p retryPolicy) do(ctx context.Context, fn func() error) error {
	delay := p.initialDelay
	var lastErr error

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !enginerr.IsTransient(lastErr) {
			return lastErr
		}
		if attempt == p.maxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * p.multiplier)
		if delay > p.maxDelay {
			delay = p.maxDelay
		}
	}
	return lastErr
}
