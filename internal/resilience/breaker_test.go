package resilience

import (
	"testing"
	"time"
)

// fakeClock lets tests move breaker time forward deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreakers(threshold int, window, cooldown time.Duration) (*Breakers, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	b := NewBreakers(threshold, window, cooldown)
	b.now = clock.now
	return b, clock
}

func TestBreakers_TripsAtThreshold(t *testing.T) {
	b, _ := newTestBreakers(3, time.Minute, 5*time.Minute)

	if b.RecordFailure("ai") {
		t.Fatal("tripped after 1 failure")
	}
	if b.RecordFailure("ai") {
		t.Fatal("tripped after 2 failures")
	}
	if !b.RecordFailure("ai") {
		t.Fatal("did not trip after 3 failures")
	}
	if !b.Open("ai") {
		t.Error("breaker not open after trip")
	}
}

func TestBreakers_ClosesAfterCooldown(t *testing.T) {
	b, clock := newTestBreakers(2, time.Minute, 5*time.Minute)

	b.RecordFailure("ai")
	b.RecordFailure("ai")
	if !b.Open("ai") {
		t.Fatal("breaker not open")
	}

	clock.advance(5*time.Minute + time.Second)
	if b.Open("ai") {
		t.Error("breaker still open after cooldown elapsed")
	}
}

func TestBreakers_WindowPrunesOldFailures(t *testing.T) {
	b, clock := newTestBreakers(3, time.Minute, 5*time.Minute)

	b.RecordFailure("ai")
	b.RecordFailure("ai")
	clock.advance(2 * time.Minute)

	// The two old failures are outside the window; this is effectively
	// the first failure of a new burst.
	if b.RecordFailure("ai") {
		t.Error("tripped on a stale failure window")
	}
	if b.Open("ai") {
		t.Error("breaker open without reaching threshold")
	}
}

func TestBreakers_SuccessClearsHistory(t *testing.T) {
	b, _ := newTestBreakers(3, time.Minute, 5*time.Minute)

	b.RecordFailure("ai")
	b.RecordFailure("ai")
	b.RecordSuccess("ai")

	if b.RecordFailure("ai") {
		t.Error("tripped after success cleared the failure history")
	}
}

func TestBreakers_KeysAreIndependent(t *testing.T) {
	b, _ := newTestBreakers(2, time.Minute, 5*time.Minute)

	b.RecordFailure("ai")
	b.RecordFailure("ai")

	if b.Open("platform") {
		t.Error("unrelated key shares breaker state")
	}
	if !b.Open("ai") {
		t.Error("tripped key not open")
	}
}
