// Package rate measures event rates over fixed wall-clock windows.
package rate

import (
	"sync"
	"time"
)

// Window is the default measurement window.
const Window = time.Second

// Counter counts events and, once per window, turns the count into an
// events-per-second figure and starts over.
type Counter struct {
	mu     sync.Mutex
	now    func() time.Time
	window time.Duration
	start  time.Time
	count  int
	rate   float64
}

// NewCounter returns a Counter using the wall clock.
func NewCounter(window time.Duration) *Counter {
	return NewCounterWithClock(window, time.Now)
}

// NewCounterWithClock returns a Counter reading time from now.
func NewCounterWithClock(window time.Duration, now func() time.Time) *Counter {
	if window <= 0 {
		window = Window
	}
	return &Counter{
		now:    now,
		window: window,
		start:  now(),
	}
}

// Tick records one event.
func (c *Counter) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.count++
	c.rollLocked(c.now())
}

// Rate returns the rate measured over the last completed window.
func (c *Counter) Rate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollLocked(c.now())
	return c.rate
}

func (c *Counter) rollLocked(now time.Time) {
	elapsed := now.Sub(c.start)
	if elapsed < c.window {
		return
	}
	c.rate = float64(c.count) / elapsed.Seconds()
	c.count = 0
	c.start = now
}
