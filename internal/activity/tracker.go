// Package activity tracks when the user last touched an input device.
//
// A single Tracker is created at process start and shared between the
// producer (Poller, fed by the OS idle timer) and the presence monitor,
// which only reads it.
package activity

import (
	"sync/atomic"
	"time"

	"github.com/eliteGoblin/focusd/face_mon/internal/domain"
)

// Tracker holds the last observed activity time. Safe for concurrent use.
type Tracker struct {
	last atomic.Int64 // unix nanoseconds
}

// NewTracker creates a tracker whose last activity is start.
func NewTracker(start time.Time) *Tracker {
	t := &Tracker{}
	t.last.Store(start.UnixNano())
	return t
}

// LastActivity returns the most recent recorded activity time.
func (t *Tracker) LastActivity() time.Time {
	return time.Unix(0, t.last.Load())
}

// Record notes activity at the given time. Older timestamps are ignored so
// readers never observe the value moving backwards.
func (t *Tracker) Record(at time.Time) {
	n := at.UnixNano()
	for {
		cur := t.last.Load()
		if n <= cur {
			return
		}
		if t.last.CompareAndSwap(cur, n) {
			return
		}
	}
}

// Ensure Tracker implements domain.ActivitySource.
var _ domain.ActivitySource = (*Tracker)(nil)
