package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func fastOpts() Options {
	return Options{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Timeout:      time.Second,
	}
}

func newTestCaller(threshold int) *Caller {
	return NewCaller(NewBreakers(threshold, time.Minute, 5*time.Minute))
}

func TestCall_SuccessFirstAttempt(t *testing.T) {
	c := newTestCaller(5)

	out := Call(context.Background(), c, "ai", fastOpts(), func(context.Context) (string, error) {
		return "hello", nil
	})

	if !out.OK() {
		t.Fatalf("outcome not OK: %+v", out)
	}
	if out.Value != "hello" {
		t.Errorf("Value = %q, want %q", out.Value, "hello")
	}
}

func TestCall_RetriesTransientThenSucceeds(t *testing.T) {
	c := newTestCaller(10)

	var calls atomic.Int32
	out := Call(context.Background(), c, "ai", fastOpts(), func(context.Context) (string, error) {
		if calls.Add(1) < 3 {
			return "", Transient(errors.New("overloaded"))
		}
		return "ok", nil
	})

	if !out.OK() {
		t.Fatalf("outcome not OK: %+v", out)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("operation called %d times, want 3", got)
	}
}

func TestCall_PermanentErrorSkipsRetries(t *testing.T) {
	c := newTestCaller(10)

	var calls atomic.Int32
	out := Call(context.Background(), c, "ai", fastOpts(), func(context.Context) (string, error) {
		calls.Add(1)
		return "", errors.New("malformed response")
	})

	if !out.Permanent {
		t.Fatalf("outcome not permanent: %+v", out)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("operation called %d times, want 1 (no retry budget on permanent errors)", got)
	}
}

func TestCall_ExhaustionReturnsTransientError(t *testing.T) {
	c := newTestCaller(10)

	var calls atomic.Int32
	out := Call(context.Background(), c, "ai", fastOpts(), func(context.Context) (string, error) {
		calls.Add(1)
		return "", Transient(errors.New("overloaded"))
	})

	if out.OK() || out.Permanent || out.CircuitOpen {
		t.Fatalf("want non-permanent error outcome, got %+v", out)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("operation called %d times, want 3", got)
	}
}

func TestCall_BreakerTripShortCircuitsBudget(t *testing.T) {
	// Threshold 2: the second failure inside one call must trip the
	// breaker and abandon the third attempt.
	c := newTestCaller(2)

	var calls atomic.Int32
	out := Call(context.Background(), c, "ai", fastOpts(), func(context.Context) (string, error) {
		calls.Add(1)
		return "", Transient(errors.New("overloaded"))
	})

	if !out.CircuitOpen {
		t.Fatalf("want circuit-open outcome, got %+v", out)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("operation called %d times, want 2", got)
	}
}

func TestCall_OpenBreakerFastFails(t *testing.T) {
	c := newTestCaller(1)

	// Trip it.
	out := Call(context.Background(), c, "ai", fastOpts(), func(context.Context) (string, error) {
		return "", Transient(errors.New("down"))
	})
	if !out.CircuitOpen {
		t.Fatalf("setup: expected circuit-open, got %+v", out)
	}

	var calls atomic.Int32
	out = Call(context.Background(), c, "ai", fastOpts(), func(context.Context) (string, error) {
		calls.Add(1)
		return "never", nil
	})

	if !out.CircuitOpen {
		t.Fatalf("want circuit-open while cool-down active, got %+v", out)
	}
	if got := calls.Load(); got != 0 {
		t.Errorf("operation invoked %d times while breaker open, want 0", got)
	}
}

func TestCall_TimeoutCountsAsRetryable(t *testing.T) {
	c := newTestCaller(10)
	opts := fastOpts()
	opts.Timeout = 5 * time.Millisecond

	var calls atomic.Int32
	out := Call(context.Background(), c, "ai", opts, func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-ctx.Done()
		return "", ctx.Err()
	})

	if out.OK() || out.Permanent {
		t.Fatalf("want transient error outcome, got %+v", out)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("operation called %d times, want 3", got)
	}
}

func TestCall_CancelledContextStopsBackoff(t *testing.T) {
	c := newTestCaller(10)
	opts := fastOpts()
	opts.InitialDelay = time.Hour
	opts.MaxDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	out := Call(ctx, c, "ai", opts, func(context.Context) (string, error) {
		return "", Transient(errors.New("overloaded"))
	})

	if !errors.Is(out.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", out.Err)
	}
}

func TestCall_SuccessResetsBreaker(t *testing.T) {
	c := newTestCaller(3)

	// Two transient failures, then success inside one call.
	var calls atomic.Int32
	out := Call(context.Background(), c, "ai", fastOpts(), func(context.Context) (string, error) {
		if calls.Add(1) < 3 {
			return "", Transient(errors.New("overloaded"))
		}
		return "ok", nil
	})
	if !out.OK() {
		t.Fatalf("outcome not OK: %+v", out)
	}

	// Two more failures must not trip: the success cleared the history.
	calls.Store(0)
	out = Call(context.Background(), c, "ai", fastOpts(), func(context.Context) (string, error) {
		if calls.Add(1) < 3 {
			return "", Transient(errors.New("overloaded"))
		}
		return "ok", nil
	})
	if !out.OK() {
		t.Errorf("breaker carried failures across a success: %+v", out)
	}
}
