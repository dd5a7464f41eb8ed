// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Manual returns a ManualClock initialized to the given time. Time
// stands still until Advance is called; every After, NewTicker, and
// Sleep registers a pending waiter that fires when the clock advances
// past its deadline.
//
// ManualClock is safe for concurrent use.
func Manual(initial time.Time) *ManualClock {
	c := &ManualClock{current: initial}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// ManualClock is a deterministic Clock for tests. Waiters fire in
// deadline order during Advance, so a test advancing across several
// deadlines observes the same interleaving every run.
type ManualClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*manualWaiter
	changed *sync.Cond
}

// manualWaiter is a pending After, Sleep, or ticker wait.
type manualWaiter struct {
	deadline time.Time
	channel  chan time.Time

	// interval is non-zero for tickers; after firing, the waiter is
	// rescheduled at deadline + interval.
	interval time.Duration

	// stopped is set by Ticker.Stop. Stopped waiters never fire and
	// are dropped on the next Advance.
	stopped bool
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives once the clock advances d past
// the current time. If d <= 0 the channel receives immediately without
// registering a waiter.
func (c *ManualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}

	c.waiters = append(c.waiters, &manualWaiter{
		deadline: c.current.Add(d),
		channel:  channel,
	})
	c.changed.Broadcast()
	return channel
}

// NewTicker returns a Ticker that fires every d of advanced time.
// Panics if d <= 0. An Advance spanning several intervals delivers one
// tick per interval, dropping ticks the consumer has not drained
// (channel capacity 1, matching time.Ticker).
func (c *ManualClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	waiter := &manualWaiter{
		deadline: c.current.Add(d),
		channel:  channel,
		interval: d,
	}
	c.waiters = append(c.waiters, waiter)
	c.changed.Broadcast()

	return &Ticker{
		C: channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			waiter.stopped = true
		},
	}
}

// Sleep blocks the calling goroutine until the clock advances past the
// deadline. If d <= 0 it returns immediately.
func (c *ManualClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline falls within the new time, in deadline order. Ticker
// waiters are rescheduled and fire once per spanned interval.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current
	c.mu.Unlock()

	for {
		expired := c.takeExpired(target)
		if len(expired) == 0 {
			return
		}

		sort.Slice(expired, func(i, j int) bool {
			return expired[i].deadline.Before(expired[j].deadline)
		})

		for _, waiter := range expired {
			select {
			case waiter.channel <- target:
			default:
			}
		}
	}
}

// takeExpired removes expired waiters from the pending list and
// returns them, rescheduling tickers for their next interval.
func (c *ManualClock) takeExpired(target time.Time) []*manualWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []*manualWaiter
	var remaining []*manualWaiter

	for _, waiter := range c.waiters {
		if waiter.stopped {
			continue
		}
		if waiter.deadline.After(target) {
			remaining = append(remaining, waiter)
			continue
		}
		expired = append(expired, waiter)
	}

	for _, waiter := range expired {
		if waiter.interval > 0 {
			waiter.deadline = waiter.deadline.Add(waiter.interval)
			remaining = append(remaining, waiter)
		}
	}

	c.waiters = remaining
	return expired
}

// BlockUntil blocks until at least n waiters are pending (registered
// and not yet fired). Tests call it after starting the operation under
// test so that a subsequent Advance deterministically fires the wait
// the operation just registered.
func (c *ManualClock) BlockUntil(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.changed.Wait()
	}
}

// Pending returns the number of active waiters. Useful in assertions
// that an operation has parked where the test expects.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *ManualClock) pendingLocked() int {
	count := 0
	for _, waiter := range c.waiters {
		if !waiter.stopped {
			count++
		}
	}
	return count
}
