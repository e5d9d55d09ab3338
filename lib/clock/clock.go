// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time source for idle stamping and frame pacing.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// NewTicker returns a Ticker that delivers a tick every d. Panics
	// if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Ticker paces a frame loop. C has capacity 1: a loop that falls
// behind sees one pending tick, not a backlog.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns off the ticker. C is not closed.
func (t *Ticker) Stop() { t.stop() }
