package netio

import (
	"time"

	"github.com/prodj/link-core/pkg/clockutil"
)

// Cadences for our own outbound traffic (spec §4.2/§4.6/§2).
const (
	KeepaliveCadence = 1500 * time.Millisecond
	StatusCadence    = 200 * time.Millisecond
)

// RateLimiter fires true no more often than every interval, driven by an
// injectable clockutil.Clock so tests don't need to sleep — the same
// capability-injection approach used for beatclock.Clock and tracker
// timestamps, generalized to outbound send cadence.
type RateLimiter struct {
	clock    clockutil.Clock
	interval time.Duration
	last     time.Time
}

// NewRateLimiter creates a RateLimiter that allows its first Ready() call
// to fire immediately.
func NewRateLimiter(clock clockutil.Clock, interval time.Duration) *RateLimiter {
	return &RateLimiter{clock: clock, interval: interval}
}

// Ready reports whether interval has elapsed since the last time it
// returned true, and if so, marks now as the new baseline.
func (r *RateLimiter) Ready(now time.Time) bool {
	if r.last.IsZero() || now.Sub(r.last) >= r.interval {
		r.last = now
		return true
	}
	return false
}
