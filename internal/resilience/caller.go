package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"syscall"
	"time"
)

// Outcome is the tagged result of one resilience-wrapped call. Exactly
// one of the three shapes holds: success (Err nil), error (Err set,
// Permanent saying whether the retry budget was spent or skipped), or
// circuit-open (CircuitOpen true, the operation was not attempted or
// its failures tripped the breaker mid-budget).
type Outcome[T any] struct {
	Value       T
	Err         error
	Permanent   bool
	CircuitOpen bool
}

// OK reports whether the call succeeded.
func (o Outcome[T]) OK() bool {
	return o.Err == nil && !o.CircuitOpen
}

// Options bound one resilience-wrapped call.
type Options struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Timeout      time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = 500 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 8 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	return o
}

// Caller executes operations against named external services, consulting
// one shared breaker table.
type Caller struct {
	breakers *Breakers
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewCaller creates a Caller over the given breaker table.
func NewCaller(breakers *Breakers) *Caller {
	return &Caller{breakers: breakers, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// transientError marks an error as retryable.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so the caller treats it as retryable. Service
// clients use this for overload signals, server errors, and connection
// failures.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// isRetryable classifies an operation error. Timeouts, explicitly
// marked transient failures, and connection resets retry; everything
// else (malformed input, unexpected responses) is permanent.
func isRetryable(err error) bool {
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET)
}

// Call runs op against the service named by key. It fast-fails while
// the breaker is open, bounds every attempt with opts.Timeout, retries
// retryable failures with jittered exponential backoff, and returns a
// circuit-open outcome the moment accumulated failures trip the
// breaker — the remaining retry budget is not spent hammering a
// dependency already known to be down.
func Call[T any](ctx context.Context, c *Caller, key string, opts Options, op func(context.Context) (T, error)) Outcome[T] {
	opts = opts.withDefaults()

	if c.breakers.Open(key) {
		return Outcome[T]{CircuitOpen: true}
	}

	var lastErr error
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		v, err := op(attemptCtx)
		cancel()

		if err == nil {
			c.breakers.RecordSuccess(key)
			return Outcome[T]{Value: v}
		}

		if !isRetryable(err) {
			return Outcome[T]{Err: err, Permanent: true}
		}

		if c.breakers.RecordFailure(key) {
			return Outcome[T]{CircuitOpen: true}
		}

		lastErr = err
		if attempt < opts.MaxAttempts-1 {
			if err := c.sleep(ctx, backoff(opts, attempt)); err != nil {
				return Outcome[T]{Err: err}
			}
		}
	}

	return Outcome[T]{Err: lastErr}
}

// backoff computes the delay before retry attempt+1: exponential from
// InitialDelay, capped at MaxDelay, with up to 25% added jitter.
func backoff(opts Options, attempt int) time.Duration {
	d := time.Duration(float64(opts.InitialDelay) * math.Pow(2, float64(attempt)))
	if d > opts.MaxDelay {
		d = opts.MaxDelay
	}
	return d + time.Duration(rand.Int63n(int64(d/4+1)))
}
