package infra

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the order path's circuit state.
type BreakerState int

const (
	BreakerClosed  BreakerState = iota // venue healthy, orders flow
	BreakerOpen                        // venue failing, orders fail fast
	BreakerProbing                     // cool-down elapsed, one probe out
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerProbing:
		return "PROBING"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker guards the slave order path. A streak of transport
// failures trips it open so a dead gateway fails orders fast instead
// of stacking retries; after a cool-down a single probe order is let
// through and its outcome decides between closing again and another
// cool-down. Venue rejections never count here: the dispatcher only
// records transport failures.
type CircuitBreaker struct {
	log  *slog.Logger
	name string

	mu        sync.Mutex
	state     BreakerState
	failures  int
	probing   bool // a probe is in flight while PROBING
	trippedAt time.Time

	tripAfter int
	coolDown  time.Duration

	now func() time.Time // injectable for tests
}

// NewCircuitBreaker returns a breaker tuned to the dispatcher's retry
// cycle: the trip threshold exceeds one full dispatch of four
// attempts, so a single doomed order cannot open the breaker by
// itself, and the cool-down matches the venue's 30s session grace.
func NewCircuitBreaker(log *slog.Logger, name string) *CircuitBreaker {
	return &CircuitBreaker{
		log:       log,
		name:      name,
		tripAfter: 5,
		coolDown:  30 * time.Second,
		now:       time.Now,
	}
}

// Allow reports whether an order attempt may proceed. While probing,
// only one attempt is admitted until its outcome is recorded.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return true

	case BreakerOpen:
		if cb.now().Sub(cb.trippedAt) < cb.coolDown {
			return false
		}
		cb.state = BreakerProbing
		cb.probing = true
		cb.log.Info("[BREAKER] cool-down elapsed, probing order path",
			slog.String("name", cb.name))
		return true

	default: // BreakerProbing
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	}
}

// RecordSuccess clears the failure streak, and closes the breaker
// when the success was the probe.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures = 0

	case BreakerProbing:
		cb.state = BreakerClosed
		cb.failures = 0
		cb.probing = false
		cb.log.Info("[BREAKER] order path recovered, closing",
			slog.String("name", cb.name))
	}
}

// RecordFailure counts a transport failure. A failed probe reopens
// the breaker for another cool-down.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.tripAfter {
			cb.state = BreakerOpen
			cb.trippedAt = cb.now()
			cb.log.Warn("[BREAKER] order path tripped open",
				slog.String("name", cb.name),
				slog.Int("transport_failures", cb.failures),
				slog.Duration("cool_down", cb.coolDown))
		}

	case BreakerProbing:
		cb.state = BreakerOpen
		cb.trippedAt = cb.now()
		cb.probing = false
		cb.log.Warn("[BREAKER] probe failed, reopening",
			slog.String("name", cb.name))

	case BreakerOpen:
		// Late outcome of an attempt admitted earlier; restart the
		// cool-down from it.
		cb.trippedAt = cb.now()
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
