// Package resilience wraps calls to unreliable external services with a
// per-service circuit breaker, bounded retries, and per-attempt timeouts.
package resilience

import (
	"sync"
	"time"
)

// Breakers tracks circuit state for every logical service key. State is
// process-local and reset on restart: a freshly started process always
// begins with closed breakers.
type Breakers struct {
	mu        sync.Mutex
	states    map[string]*breakerState
	threshold int
	window    time.Duration
	cooldown  time.Duration
	now       func() time.Time
}

type breakerState struct {
	failures  []time.Time
	openUntil time.Time
}

// NewBreakers creates a breaker table. A breaker opens for cooldown once
// threshold failures accumulate within the rolling window.
func NewBreakers(threshold int, window, cooldown time.Duration) *Breakers {
	return &Breakers{
		states:    make(map[string]*breakerState),
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Open reports whether the breaker for key is currently open.
func (b *Breakers) Open(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.states[key]
	return ok && b.now().Before(st.openUntil)
}

// RecordFailure notes one retryable failure for key, pruning entries
// outside the rolling window. It returns true if this failure tripped
// the breaker open.
func (b *Breakers) RecordFailure(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.states[key]
	if !ok {
		st = &breakerState{}
		b.states[key] = st
	}

	now := b.now()
	cutoff := now.Add(-b.window)
	kept := st.failures[:0]
	for _, t := range st.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	st.failures = append(kept, now)

	if len(st.failures) >= b.threshold {
		st.openUntil = now.Add(b.cooldown)
		st.failures = nil
		return true
	}
	return false
}

// RecordSuccess clears all failure history for key. A single success is
// treated as full recovery; there is no half-open probe phase.
func (b *Breakers) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.states, key)
}
