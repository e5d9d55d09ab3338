// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundlecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/bundlecache/lib/task"
)

// recordState is the position of a record in its load lifecycle.
type recordState int

const (
	// stateReading: raw bytes are being fetched from the container.
	stateReading recordState = iota
	// stateDecoding: raw bytes are being turned into a Bundle.
	stateDecoding
	// stateAwaitingDependencies: decoded, but some dependency is not
	// ready yet.
	stateAwaitingDependencies
	// stateReady: the bundle and its whole dependency closure are
	// usable.
	stateReady
	// stateFailed: reading, decoding, or a dependency failed. Terminal.
	stateFailed
	// stateReleased: evicted and closed. Terminal.
	stateReleased
)

func (s recordState) String() string {
	switch s {
	case stateReading:
		return "reading"
	case stateDecoding:
		return "decoding"
	case stateAwaitingDependencies:
		return "awaiting-dependencies"
	case stateReady:
		return "ready"
	case stateFailed:
		return "failed"
	case stateReleased:
		return "released"
	default:
		return fmt.Sprintf("recordState(%d)", int(s))
	}
}

// record owns one bundle's lifecycle. All fields are touched only by
// the driving goroutine; workers see nothing but the futures.
type record struct {
	name      string
	container string
	// synchronous is fixed at creation: the bundle was first requested
	// by a blocking load and is read and decoded inline.
	synchronous bool
	state       recordState

	// At most one of read, data, and decode is set while loading:
	// read is the in-flight container read, data is read bytes not yet
	// handed to the decoder, decode is the in-flight decode.
	read   *task.Future[[]byte]
	data   []byte
	decode *task.Future[Bundle]

	bundle       Bundle
	dependencies []*record
	err          error

	// referenceCount counts handles and pending loads on this bundle
	// plus, transitively, on every bundle that depends on it.
	referenceCount int
	// idleSince is zero iff referenceCount > 0.
	idleSince time.Time
	// dependents counts live records listing this one as a dependency.
	// The sweep never evicts a record other records still point at.
	dependents int

	createdAt time.Time
	readyAt   time.Time
	// polledFrame stamps the last frame this record was polled in, so
	// shared dependencies are polled once per frame.
	polledFrame uint64
}

func (r *record) isDone() bool { return r.state == stateReady }

// isTerminal reports whether the record will never change state again.
func (r *record) isTerminal() bool {
	return r.state == stateReady || r.state == stateFailed || r.state == stateReleased
}

// startRead schedules the container read on the pool.
func (c *Cache) startRead(record *record) {
	reader := c.reader
	path := c.containerPath(record.container)
	name := record.name
	record.read = task.Start(c.pool, func(ctx context.Context) ([]byte, error) {
		return reader.ReadBlock(ctx, path, name)
	})
}

// startDecode hands the read bytes to the decoder on the pool.
func (c *Cache) startDecode(record *record) {
	decoder := c.decoder
	name := record.name
	data := record.data
	record.data = nil
	record.decode = task.Start(c.pool, func(ctx context.Context) (Bundle, error) {
		return decoder.Decode(ctx, name, data)
	})
}

// poll advances an asynchronous record as far as it can go without
// blocking. Dependencies are polled first so a record whose last
// dependency became ready this frame becomes ready this frame too.
func (c *Cache) poll(record *record) {
	if record.polledFrame == c.frame {
		return
	}
	record.polledFrame = c.frame

	for _, dependency := range record.dependencies {
		c.poll(dependency)
	}
	if record.isTerminal() {
		return
	}
	if failed := failedDependency(record); failed != nil {
		c.fail(record, fmt.Errorf("dependency %q failed: %w", failed.name, failed.err))
		return
	}

	if record.state == stateReading {
		if record.read == nil {
			// A synchronous load stopped before reading. The frame loop
			// takes over only if something still wants the bundle;
			// otherwise the sweep drops the record.
			if record.referenceCount > 0 {
				c.startRead(record)
			}
			return
		}
		if !record.read.IsCompleted() {
			return
		}
		if err := record.read.Err(); err != nil {
			c.fail(record, fmt.Errorf("reading: %w", err))
			return
		}
		record.data = record.read.Result()
		record.read = nil
		record.state = stateDecoding
	}

	if record.state == stateDecoding {
		if record.decode == nil {
			c.startDecode(record)
			return
		}
		if !record.decode.IsCompleted() {
			return
		}
		if err := record.decode.Err(); err != nil {
			c.fail(record, fmt.Errorf("decoding: %w", err))
			return
		}
		record.bundle = record.decode.Result()
		record.decode = nil
		record.state = stateAwaitingDependencies
	}

	if record.state == stateAwaitingDependencies {
		for _, dependency := range record.dependencies {
			if !dependency.isDone() {
				return
			}
		}
		c.markReady(record)
	}
}

// completeInline drives record to Ready on the calling goroutine,
// waiting on any futures already in flight rather than starting new
// work. If ctx ends first the record is left where it was: a later
// reference resumes it, and the sweep drops it while unreferenced.
func (c *Cache) completeInline(ctx context.Context, record *record) error {
	switch record.state {
	case stateReady:
		return nil
	case stateFailed:
		return record.err
	case stateReleased:
		return &Error{Code: Other, Bundle: record.name, Err: errors.New("record already released")}
	}
	if record.state == stateReading {
		var data []byte
		var err error
		if record.read != nil {
			data, err = record.read.Wait(ctx)
		} else {
			data, err = c.reader.ReadBlock(ctx, c.containerPath(record.container), record.name)
		}
		if err != nil {
			if ctx.Err() != nil {
				return loadFailed(record.name, ctx.Err())
			}
			c.fail(record, fmt.Errorf("reading: %w", err))
			return record.err
		}
		record.read = nil
		record.data = data
		record.state = stateDecoding
	}

	if record.state == stateDecoding {
		var bundle Bundle
		var err error
		if record.decode != nil {
			bundle, err = record.decode.Wait(ctx)
		} else {
			bundle, err = c.decoder.Decode(ctx, record.name, record.data)
		}
		if err != nil {
			if ctx.Err() != nil {
				return loadFailed(record.name, ctx.Err())
			}
			c.fail(record, fmt.Errorf("decoding: %w", err))
			return record.err
		}
		record.data = nil
		record.decode = nil
		record.bundle = bundle
		record.state = stateAwaitingDependencies
	}

	for _, dependency := range record.dependencies {
		if err := c.completeInline(ctx, dependency); err != nil {
			if ctx.Err() != nil {
				return loadFailed(record.name, ctx.Err())
			}
			c.fail(record, fmt.Errorf("dependency %q: %w", dependency.name, err))
			return record.err
		}
	}
	c.markReady(record)
	return nil
}

func (c *Cache) markReady(record *record) {
	record.state = stateReady
	record.readyAt = c.clock.Now()
	c.logger.Debug("bundle ready",
		"bundle", record.name,
		"synchronous", record.synchronous,
		"load_time", record.readyAt.Sub(record.createdAt),
	)
}

// fail moves record to Failed, stopping any in-flight work and closing
// a bundle that was decoded before a dependency failed.
func (c *Cache) fail(record *record, err error) {
	if record.isTerminal() {
		return
	}
	if record.read != nil {
		record.read.Cancel()
		record.read = nil
	}
	if record.decode != nil {
		record.decode.Cancel()
		record.decode = nil
	}
	record.data = nil
	if record.bundle != nil {
		c.closeBundle(record)
	}
	record.err = loadFailed(record.name, err)
	record.state = stateFailed
	c.logger.Error("bundle load failed", "bundle", record.name, "error", err)
}

func failedDependency(record *record) *record {
	for _, dependency := range record.dependencies {
		if dependency.state == stateFailed {
			return dependency
		}
	}
	return nil
}

// retain adds one reference to record and, transitively, to each of
// its dependencies.
func (c *Cache) retain(record *record) {
	record.referenceCount++
	if record.referenceCount > 0 {
		record.idleSince = time.Time{}
	}
	for _, dependency := range record.dependencies {
		c.retain(dependency)
	}
}

// release undoes one retain. A count going negative is a bookkeeping
// bug; it is reported and left as is so the imbalance stays visible.
func (c *Cache) release(record *record) {
	record.referenceCount--
	if record.referenceCount < 0 {
		c.logger.Error("bundle reference count went negative",
			"bundle", record.name,
			"reference_count", record.referenceCount,
		)
	}
	if record.referenceCount <= 0 && record.idleSince.IsZero() {
		record.idleSince = c.clock.Now()
	}
	for _, dependency := range record.dependencies {
		c.release(dependency)
	}
}

// evictable reports whether the sweep may remove record at now. Failed
// and stalled records go as soon as nothing refers to them; ready ones
// wait out the idle threshold unless force is set.
func (c *Cache) evictable(record *record, now time.Time, force bool) bool {
	if record.dependents > 0 || record.referenceCount > 0 || record.idleSince.IsZero() {
		return false
	}
	switch record.state {
	case stateFailed:
		return true
	case stateReading, stateAwaitingDependencies:
		return stalled(record)
	case stateReady:
		return force || now.Sub(record.idleSince) > c.idleThreshold
	default:
		return false
	}
}

// stalled reports whether record cannot progress without a new
// reference: its read never started, or it waits on a dependency that
// is stalled. A synchronous load whose context ended part way leaves
// records like this; the frame loop only starts reads for referenced
// records.
func stalled(record *record) bool {
	switch record.state {
	case stateReading:
		return record.read == nil
	case stateAwaitingDependencies:
		for _, dependency := range record.dependencies {
			if stalled(dependency) {
				return true
			}
		}
	}
	return false
}

// remove takes record out of the registry, closes its bundle, and
// drops its structural edges so its dependencies can be swept too.
func (c *Cache) remove(record *record) {
	if record.bundle != nil {
		c.closeBundle(record)
	}
	for _, dependency := range record.dependencies {
		dependency.dependents--
	}
	record.state = stateReleased
	delete(c.records, record.name)
}

func (c *Cache) closeBundle(record *record) {
	if err := record.bundle.Close(); err != nil {
		c.logger.Warn("closing bundle", "bundle", record.name, "error", err)
	}
	record.bundle = nil
}
