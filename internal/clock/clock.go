// Package clock provides an injectable time source so the monitor loop can
// be tested without real delays.
//
// Production code uses Real(). Tests use Fake(), whose After fires
// immediately and moves fake time forward by the requested duration, so a
// sequential state machine runs through its sleeps instantly while still
// observing correct timestamps.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts the time operations used by the monitor.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Sleep blocks for d or until ctx is done, whichever comes first.
// Returns ctx.Err() when interrupted.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.After(d):
		return nil
	}
}

// FakeClock is a deterministic Clock. Time only moves when After or Advance
// is called. Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	sleeps  []time.Duration
}

// Fake returns a FakeClock starting at initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After advances fake time by d, records the wait, and returns a channel
// that already holds the new time.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d > 0 {
		c.current = c.current.Add(d)
	}
	c.sleeps = append(c.sleeps, d)

	ch := make(chan time.Time, 1)
	ch <- c.current
	return ch
}

// Advance moves fake time forward without recording a sleep.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Set jumps fake time to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// Sleeps returns every duration waited on via After, in order.
func (c *FakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// ResetSleeps clears the recorded sleeps.
func (c *FakeClock) ResetSleeps() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = nil
}

var _ Clock = (*FakeClock)(nil)
