// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// FakeClock is a manually advanced Clock for tests. It is safe for
// concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

type fakeTicker struct {
	next     time.Time
	interval time.Duration
	channel  chan time.Time
	stopped  bool
}

// Fake returns a FakeClock reading initial until Advance moves it.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{now: initial}
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NewTicker returns a Ticker that fires whenever Advance crosses its
// next deadline. Panics if d <= 0.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: NewTicker needs a positive interval")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	ticker := &fakeTicker{
		next:     c.now.Add(d),
		interval: d,
		channel:  make(chan time.Time, 1),
	}
	c.tickers = append(c.tickers, ticker)
	return &Ticker{C: ticker.channel, stop: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		ticker.stopped = true
	}}
}

// Advance moves the clock forward by d. Each live ticker whose
// deadline falls inside the step gets at most one tick; intervals a
// large step jumps over are dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	live := c.tickers[:0]
	for _, ticker := range c.tickers {
		if ticker.stopped {
			continue
		}
		live = append(live, ticker)
		if ticker.next.After(c.now) {
			continue
		}
		for !ticker.next.After(c.now) {
			ticker.next = ticker.next.Add(ticker.interval)
		}
		select {
		case ticker.channel <- c.now:
		default:
		}
	}
	clear(c.tickers[len(live):])
	c.tickers = live
}

// Tickers returns the number of tickers not yet stopped.
func (c *FakeClock) Tickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, ticker := range c.tickers {
		if !ticker.stopped {
			count++
		}
	}
	return count
}
