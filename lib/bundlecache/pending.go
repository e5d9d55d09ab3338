// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundlecache

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/bureau-foundation/bundlecache/lib/task"
)

// TaskID identifies an asynchronous load. Zero is never issued.
type TaskID uint64

type pendingStage int

const (
	// stageAwaitingBundle: the owning record is not ready yet.
	stageAwaitingBundle pendingStage = iota
	// stageLoadingItem: the asset request is running on the pool.
	stageLoadingItem
)

// pendingLoad is one asynchronous item request. It holds one reference
// on its record from submission until it finishes or is cancelled.
type pendingLoad struct {
	id     TaskID
	path   string
	asset  string
	record *record
	stage  pendingStage

	// produce turns the raw asset into the value handed to the
	// callback. It runs on a pool worker.
	produce func(item any) (any, error)
	// deliver invokes the caller's callback exactly once.
	deliver func(value any, handle Handle, err error)

	item *task.Future[any]
}

var pendingLoads = sync.Pool{
	New: func() any { return new(pendingLoad) },
}

func newPendingLoad() *pendingLoad {
	return pendingLoads.Get().(*pendingLoad)
}

func recyclePendingLoad(load *pendingLoad) {
	*load = pendingLoad{}
	pendingLoads.Put(load)
}

// finishedTask remembers a completed task's final progress for one
// more frame.
type finishedTask struct {
	progress float64
	frame    uint64
}

// submitPending registers load and returns its task ID. The caller has
// already retained load.record.
func (c *Cache) submitPending(load *pendingLoad) TaskID {
	c.nextTask++
	load.id = c.nextTask
	load.stage = stageAwaitingBundle
	c.pending = append(c.pending, load)
	c.pendingByID[load.id] = load
	return load.id
}

// pollPending advances every pending load by at most one stage and
// fires the callbacks of those that finished. Callbacks may call back
// into the cache; loads they submit are polled from the next frame.
func (c *Cache) pollPending() {
	snapshot := c.pending
	c.pending = nil
	c.polling = true
	var still []*pendingLoad

	for _, load := range snapshot {
		if c.pendingByID[load.id] != load {
			// Cancelled by an earlier callback this frame.
			continue
		}
		if c.advancePending(load) {
			continue
		}
		still = append(still, load)
	}
	// A callback may have cancelled a load already carried over.
	still = slices.DeleteFunc(still, func(load *pendingLoad) bool {
		return c.pendingByID[load.id] != load
	})
	c.pending = append(still, c.pending...)

	c.polling = false
	for _, load := range c.cancelled {
		recyclePendingLoad(load)
	}
	c.cancelled = c.cancelled[:0]
}

// advancePending returns true when load has finished.
func (c *Cache) advancePending(load *pendingLoad) bool {
	record := load.record

	switch load.stage {
	case stageAwaitingBundle:
		switch record.state {
		case stateFailed:
			c.finishPending(load, nil, 0, record.err)
			return true
		case stateReady:
			bundle := record.bundle
			asset := load.asset
			produce := load.produce
			load.item = task.Start(c.pool, func(ctx context.Context) (any, error) {
				item, err := bundle.LoadAsset(ctx, asset)
				if err != nil {
					return nil, err
				}
				return produce(item)
			})
			load.stage = stageLoadingItem
		}
		return false

	case stageLoadingItem:
		if !load.item.IsCompleted() {
			return false
		}
		if err := load.item.Err(); err != nil {
			c.finishPending(load, nil, 0, &Error{
				Code:   LoadFailed,
				Path:   load.path,
				Bundle: record.name,
				Err:    fmt.Errorf("loading asset %q: %w", load.asset, err),
			})
			return true
		}
		value := load.item.Result()
		handle := c.registerHandle(record, value)
		c.finishPending(load, value, handle, nil)
		return true
	}
	return false
}

// finishPending hands the outcome to the callback. On failure the
// load's reference is released; on success it now belongs to handle.
func (c *Cache) finishPending(load *pendingLoad, value any, handle Handle, err error) {
	delete(c.pendingByID, load.id)
	progress := 1.0
	if err != nil {
		progress = -1
		c.release(load.record)
		c.logger.Warn("asynchronous load failed", "task", load.id, "path", load.path, "error", err)
	}
	c.finished[load.id] = finishedTask{progress: progress, frame: c.frame}

	deliver := load.deliver
	recyclePendingLoad(load)
	if deliver != nil {
		deliver(value, handle, err)
	}
}

// cancelPending drops load without calling its callback. During a
// poll the load may still sit in the poll's snapshot, so it is recycled
// only once the poll is over.
func (c *Cache) cancelPending(load *pendingLoad) {
	delete(c.pendingByID, load.id)
	c.pending = slices.DeleteFunc(c.pending, func(other *pendingLoad) bool { return other == load })
	if load.item != nil {
		load.item.Cancel()
	}
	c.release(load.record)
	c.logger.Debug("asynchronous load cancelled", "task", load.id, "path", load.path)
	if c.polling {
		c.cancelled = append(c.cancelled, load)
		return
	}
	recyclePendingLoad(load)
}
