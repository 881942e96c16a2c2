package service

import (
	"time"

	"go.uber.org/atomic"
)

// LagTracker holds the timestamp of the most recently processed replication
// message. The value is a single atomically-replaced timestamp owned by the
// applier; concurrent readers observe either the old or new value, never a
// torn one.
type LagTracker struct {
	lastProcessed *atomic.Time
}

// NewLagTracker creates a lag tracker with no messages observed yet
func NewLagTracker() *LagTracker {
	return &LagTracker{
		lastProcessed: atomic.NewTime(time.Time{}),
	}
}

// Observe records the timestamp of a processed replication message
func (t *LagTracker) Observe(ts time.Time) {
	t.lastProcessed.Store(ts)
}

// LagSeconds returns max(0, now - lastProcessed) in seconds, or 0 if no
// message has ever been processed. Read-only and safe to call concurrently
// with Observe.
func (t *LagTracker) LagSeconds() float64 {
	last := t.lastProcessed.Load()
	if last.IsZero() {
		return 0
	}

	lag := time.Since(last).Seconds()
	if lag < 0 {
		return 0
	}
	return lag
}
