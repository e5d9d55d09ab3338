// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

type wallClock struct{}

// Real returns the wall clock.
func Real() Clock { return wallClock{} }

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stop: ticker.Stop}
}
