// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bundlecache is a runtime content-streaming cache. It loads
// bundles out of packed container files, decodes them, resolves the
// dependencies between them, hands out named assets by logical path,
// and releases bundles once nothing has referenced them for a while.
//
// A [Cache] is an explicit service object: create it with [New],
// install a manifest with [Cache.Init] (or [Cache.InitRegistry]), and
// call [Cache.UpdateFrame] once per tick from the goroutine that owns
// it. Every other method must be called from that same goroutine.
// Background reads, decodes, and asset loads run on a bounded worker
// pool and hand their results back through futures that the tick
// polls.
//
// # Loading
//
// [LoadAsset] blocks until the asset's bundle and its whole dependency
// closure are ready. [LoadAssetAsync] returns a [TaskID] at once and
// invokes its callback from a later UpdateFrame. Both deduplicate onto
// a single record per bundle name. A blocking load that finds the
// bundle already loading asynchronously waits for the in-flight work
// instead of starting it again.
//
// Every item handed out is identified by a [Handle]. A handle holds
// one reference on its bundle, and a reference on a bundle holds one
// reference on each of its dependencies, transitively.
// [Cache.UnloadAsset] gives the reference back; unloading an unknown
// or already released handle is logged and ignored.
//
// # Eviction
//
// A bundle whose reference count drops to zero becomes idle. Each
// UpdateFrame evicts bundles that are ready, idle for longer than the
// idle threshold, and not listed as a dependency by any registered
// bundle; evicting a bundle can make its dependencies evictable in the
// same sweep. Failed bundles are removed as soon as nothing refers to
// them, so a later request retries. [Cache.Collect] evicts every idle
// bundle immediately.
//
// # Errors
//
// Every error is an [*Error] carrying an [ErrorCode]. Failures of
// asynchronous loads are delivered to the load's callback; UpdateFrame
// itself never fails.
package bundlecache
