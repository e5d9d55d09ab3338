// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the cache's time source.
//
// The cache stamps a bundle with Now when its last reference goes away
// and compares against Now on every frame to find bundles past the
// idle threshold. Command-line frame loops pace UpdateFrame with
// NewTicker. Tests substitute Fake and step time explicitly:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	cache, _ := bundlecache.New(bundlecache.Options{Clock: c, ...})
//	// ... release the last handle ...
//	c.Advance(11 * time.Second)
//	cache.UpdateFrame() // the idle bundle is evicted
package clock
