// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package monitor is a terminal view of a live bundle cache.
//
// [Model] is a bubbletea model whose tick drives the cache: every
// [Options].Interval it calls UpdateFrame (which fires asynchronous
// callbacks and runs the eviction sweep) and then redraws the registry
// as a table of bundles with their state, reference count, dependency
// count, and idle time. Because the model owns the tick, it is the
// cache's driving goroutine while the program runs; nothing else may
// call into the cache concurrently.
//
// Keys: j/k or arrows move the cursor, c collects idle bundles
// immediately, space pauses frame updates, q quits.
package monitor
