// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundlecache

// Handle identifies one live item produced by a load, instantiate, or
// clone call. Each handle holds one reference on the bundle the item
// came from until it is passed to UnloadAsset. Handles increase
// monotonically and are never reused; zero is never issued.
type Handle uint64

// handleEntry is the back-reference from an item to its bundle.
type handleEntry struct {
	record *record
	value  any
}

// registerHandle issues a handle for value. The caller has already
// retained record on the handle's behalf.
func (c *Cache) registerHandle(record *record, value any) Handle {
	c.nextHandle++
	handle := c.nextHandle
	c.handles[handle] = handleEntry{record: record, value: value}
	return handle
}

// Value returns the item a live handle refers to.
func (c *Cache) Value(handle Handle) (any, bool) {
	entry, ok := c.handles[handle]
	return entry.value, ok
}

// UnloadAsset gives up handle's reference on its bundle. An unknown or
// already unloaded handle is logged and ignored.
func (c *Cache) UnloadAsset(handle Handle) {
	entry, ok := c.handles[handle]
	if !ok {
		c.logger.Warn("unload of unknown or already released handle", "handle", uint64(handle))
		return
	}
	delete(c.handles, handle)
	c.release(entry.record)
}
