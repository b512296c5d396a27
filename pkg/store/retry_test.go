package store

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/engineeye/pkg/enginerr"
)

func fastRetryPolicy() retryPolicy {
	return retryPolicy{
		initialDelay: time.Millisecond,
		multiplier:   2,
		maxDelay:     5 * time.Millisecond,
		maxAttempts:  3,
	}
}

func TestRetry_SucceedsWithoutRetryOnFirstAttempt(t *testing.T) {
	calls := 0
	err := fastRetryPolicy().do(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetry_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	err := fastRetryPolicy().do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return enginerr.New(enginerr.ConnectionFailed, "not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := fastRetryPolicy().do(context.Background(), func() error {
		calls++
		return enginerr.New(enginerr.ConnectionFailed, "still failing")
	})
	if err == nil {
		t.Fatal("expected an error after exhausting attempts")
	}
	if calls != 3 {
		t.Fatalf("expected exactly maxAttempts (3) calls, got %d", calls)
	}
}

func TestRetry_NonTransientErrorStopsImmediately(t *testing.T) {
	calls := 0
	err := fastRetryPolicy().do(context.Background(), func() error {
		calls++
		return enginerr.New(enginerr.InvalidConfiguration, "bad config")
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Fatalf("expected no retries for a non-transient error, got %d calls", calls)
	}
}

func TestRetry_CancelledErrorStopsImmediately(t *testing.T) {
	calls := 0
	err := fastRetryPolicy().do(context.Background(), func() error {
		calls++
		return enginerr.New(enginerr.Cancelled, "stop")
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Fatalf("expected no retries for a cancelled error, got %d calls", calls)
	}
}

func TestRetry_ContextCancelDuringBackoffStopsEarly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := retryPolicy{initialDelay: 50 * time.Millisecond, multiplier: 2, maxDelay: time.Second, maxAttempts: 5}

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := p.do(ctx, func() error {
		calls++
		return enginerr.New(enginerr.ConnectionFailed, "down")
	})
	if err == nil {
		t.Fatal("expected an error when context is cancelled mid-backoff")
	}
	if calls >= p.maxAttempts {
		t.Fatalf("expected fewer than maxAttempts calls due to cancellation, got %d", calls)
	}
}
