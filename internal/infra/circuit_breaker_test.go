package infra

import (
	"log/slog"
	"testing"
	"time"
)

// fakeClock lets the tests move through the cool-down without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker() (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker(slog.Default(), "slave-trading")
	cb.now = clock.now
	return cb, clock
}

func (cb *CircuitBreaker) failTimes(n int) {
	for i := 0; i < n; i++ {
		cb.RecordFailure()
	}
}

func TestCircuitBreaker_OneDispatchCycleStaysClosed(t *testing.T) {
	cb, _ := newTestBreaker()

	// A single doomed decision burns four attempts; that alone must
	// not take the order path down.
	cb.failTimes(4)

	if cb.State() != BreakerClosed {
		t.Fatalf("state = %s after one dispatch cycle, want CLOSED", cb.State())
	}
	if !cb.Allow() {
		t.Error("closed breaker refused an order attempt")
	}
}

func TestCircuitBreaker_TripsOnFailureStreak(t *testing.T) {
	cb, _ := newTestBreaker()

	cb.failTimes(5)

	if cb.State() != BreakerOpen {
		t.Fatalf("state = %s after 5 transport failures, want OPEN", cb.State())
	}
	if cb.Allow() {
		t.Error("open breaker admitted an order attempt")
	}
}

func TestCircuitBreaker_SuccessResetsStreak(t *testing.T) {
	cb, _ := newTestBreaker()

	cb.failTimes(4)
	cb.RecordSuccess()
	cb.failTimes(4)

	if cb.State() != BreakerClosed {
		t.Errorf("state = %s, non-consecutive failures must not trip", cb.State())
	}
}

func TestCircuitBreaker_SingleProbeAfterCoolDown(t *testing.T) {
	cb, clock := newTestBreaker()
	cb.failTimes(5)

	clock.advance(29 * time.Second)
	if cb.Allow() {
		t.Fatal("breaker admitted an order inside the cool-down")
	}

	clock.advance(2 * time.Second)
	if !cb.Allow() {
		t.Fatal("breaker refused the probe after the cool-down")
	}
	if cb.State() != BreakerProbing {
		t.Fatalf("state = %s, want PROBING", cb.State())
	}
	if cb.Allow() {
		t.Error("second order admitted while the probe is in flight")
	}

	cb.RecordSuccess()
	if cb.State() != BreakerClosed {
		t.Errorf("state = %s after successful probe, want CLOSED", cb.State())
	}
	if !cb.Allow() {
		t.Error("closed breaker refused an order attempt")
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb, clock := newTestBreaker()
	cb.failTimes(5)

	clock.advance(31 * time.Second)
	if !cb.Allow() {
		t.Fatal("breaker refused the probe after the cool-down")
	}
	cb.RecordFailure()

	if cb.State() != BreakerOpen {
		t.Fatalf("state = %s after failed probe, want OPEN", cb.State())
	}
	if cb.Allow() {
		t.Error("order admitted right after a failed probe")
	}

	// A fresh cool-down starts from the failed probe.
	clock.advance(31 * time.Second)
	if !cb.Allow() {
		t.Error("breaker refused the next probe after another cool-down")
	}
}
