// Package clock abstracts the time operations the allocator waits on so tests
// can run retry loops without real sleeps.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	// After behaves like time.After.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Fake is a deterministic Clock. Time stands still until Advance is called,
// or, for a stepping clock, until someone waits on After.
//
// Fake is safe for concurrent use.
type Fake struct {
	mu       sync.Mutex
	current  time.Time
	stepping bool
	waiters  []fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewFake returns a Fake that only moves on Advance.
func NewFake(initial time.Time) *Fake {
	return &Fake{current: initial}
}

// NewStepping returns a Fake whose After call moves time forward by the
// requested duration and fires at once.
func NewStepping(initial time.Time) *Fake {
	return &Fake{current: initial, stepping: true}
}

func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Fake) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if c.stepping && d > 0 {
		c.current = c.current.Add(d)
		c.fireLocked()
	}
	if d <= 0 {
		ch <- c.current
		return ch
	}
	deadline := c.current.Add(d)
	if c.stepping {
		deadline = c.current
	}
	c.waiters = append(c.waiters, fakeWaiter{deadline: deadline, ch: ch})
	c.fireLocked()
	return ch
}

// Advance moves the clock forward and fires every waiter whose deadline has
// been reached.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	c.fireLocked()
}

// Pending reports how many After calls are still waiting.
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *Fake) fireLocked() {
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.deadline.After(c.current) {
			w.ch <- c.current
			continue
		}
		kept = append(kept, w)
	}
	c.waiters = kept
}
