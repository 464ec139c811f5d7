package infra

import "time"

// Retry delays double per attempt, from retryBase up to retryCap. The
// same ladder paces gateway reconnects and order resends: the cap
// stays below the 90s open-time tolerance the ledger rebuild uses, so
// a copier stuck at the top of the ladder can still pair the slave
// orders it placed just before the drop.
const (
	retryBase = 1 * time.Second
	retryCap  = 60 * time.Second
)

// CalculateBackoff returns the delay before retry attempt n (0-based).
// Negative attempts get the base delay.
func CalculateBackoff(attempt int) time.Duration {
	d := retryBase
	for ; attempt > 0 && d < retryCap; attempt-- {
		d *= 2
	}
	if d > retryCap {
		return retryCap
	}
	return d
}
