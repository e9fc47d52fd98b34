package ledger

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock returns the ledger time in unix seconds.
type Clock interface {
	Now() int64
}

// SystemClock follows the wall clock but never goes backwards.
type SystemClock struct {
	last atomic.Int64
}

func (c *SystemClock) Now() int64 {
	for {
		now := time.Now().Unix()
		last := c.last.Load()
		if now <= last {
			return last
		}
		if c.last.CompareAndSwap(last, now) {
			return now
		}
	}
}

// ManualClock is set explicitly. Used by tests and simulations.
type ManualClock struct {
	mu  sync.Mutex
	now int64
}

func NewManualClock(now int64) *ManualClock {
	return &ManualClock{now: now}
}

func (c *ManualClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Set(now int64) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *ManualClock) Advance(d int64) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}
