package infra_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"xiaoi/internal/infra"
)

func fastRetry(attempts int) infra.RetryConfig {
	return infra.RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestWithRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	var retried []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, _ error, _ time.Duration) {
		retried = append(retried, attempt)
	}

	err := infra.WithRetry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("unavailable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 || len(retried) != 2 {
		t.Errorf("calls %d, retries %v", calls, retried)
	}
}

func TestWithRetry_GivesUp(t *testing.T) {
	want := errors.New("still down")
	calls := 0
	err := infra.WithRetry(context.Background(), fastRetry(2), func() error {
		calls++
		return want
	})
	if !errors.Is(err, want) || calls != 2 {
		t.Errorf("got %v after %d calls", err, calls)
	}
}

func TestWithRetry_PermanentStopsImmediately(t *testing.T) {
	want := errors.New("bad credentials")
	calls := 0
	err := infra.WithRetry(context.Background(), fastRetry(5), func() error {
		calls++
		return infra.Permanent(want)
	})
	if err != want || calls != 1 {
		t.Errorf("got %v after %d calls", err, calls)
	}
	if infra.Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}

func TestWithRetry_UnlimitedUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := infra.WithRetry(ctx, fastRetry(0), func() error {
		calls++
		if calls == 10 {
			cancel()
		}
		return errors.New("not yet")
	})
	if !errors.Is(err, context.Canceled) || calls != 10 {
		t.Errorf("got %v after %d calls", err, calls)
	}
}

func TestIsRetryableHTTPStatus(t *testing.T) {
	for code, want := range map[int]bool{429: true, 500: true, 503: true, 400: false, 401: false, 200: false} {
		if got := infra.IsRetryableHTTPStatus(code); got != want {
			t.Errorf("%d: got %v, want %v", code, got, want)
		}
	}
}
