package usecase

import (
	"sync"
	"time"
)

// LockWindow remembers the most recent lock times, oldest first.
// It outlives a single monitoring session.
type LockWindow struct {
	mu    sync.Mutex
	size  int
	times []time.Time
}

// NewLockWindow creates a window holding at most size lock times.
func NewLockWindow(size int) *LockWindow {
	if size < 1 {
		size = 1
	}
	return &LockWindow{size: size}
}

// Add records a lock, evicting the oldest entry when full.
func (w *LockWindow) Add(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.times = append(w.times, t)
	if len(w.times) > w.size {
		w.times = append([]time.Time(nil), w.times[len(w.times)-w.size:]...)
	}
}

// Seed replaces the contents with times (oldest first), keeping the newest.
func (w *LockWindow) Seed(times []time.Time) {
	w.mu.Lock()
	w.times = nil
	w.mu.Unlock()
	for _, t := range times {
		w.Add(t)
	}
}

// Times returns a copy of the recorded lock times, oldest first.
func (w *LockWindow) Times() []time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Time(nil), w.times...)
}

// Len returns the number of recorded locks.
func (w *LockWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.times)
}

// ShouldCoolDown reports whether the window is full and its oldest lock is
// less than window old.
func (w *LockWindow) ShouldCoolDown(now time.Time, window time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.times) < w.size {
		return false
	}
	return now.Sub(w.times[0]) < window
}
