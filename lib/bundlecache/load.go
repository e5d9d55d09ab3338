// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundlecache

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/bureau-foundation/bundlecache/lib/codec"
	"github.com/bureau-foundation/bundlecache/lib/manifest"
)

// LoadAsset loads the asset at path, blocking until its bundle and the
// bundle's whole dependency closure are ready. A bundle already being
// loaded asynchronously is finished inline. The returned handle holds
// a reference on the bundle until UnloadAsset.
//
// If the stored asset is already a T it is returned as is; raw bytes
// are CBOR-decoded into T.
func LoadAsset[T any](ctx context.Context, cache *Cache, path string) (T, Handle, error) {
	var zero T
	value, handle, err := cache.load(ctx, "load", path, convert[T])
	if err != nil {
		return zero, 0, err
	}
	return value.(T), handle, nil
}

// LoadAssetAsync starts loading the asset at path and returns at once.
// callback runs exactly once from a later UpdateFrame, with either the
// value and its handle or an error; it never runs synchronously. Path
// and manifest errors are returned directly and no callback follows.
func LoadAssetAsync[T any](cache *Cache, path string, callback func(T, Handle, error)) (TaskID, error) {
	deliver := func(value any, handle Handle, err error) {
		if callback == nil {
			return
		}
		if err != nil {
			var zero T
			callback(zero, 0, err)
			return
		}
		callback(value.(T), handle, nil)
	}
	return cache.loadAsync("load", path, convert[T], deliver)
}

// InstantiatePrefab loads the template asset at path and returns a new
// instance of it under parent. The handle refers to the instance; the
// template itself gets no handle.
func (c *Cache) InstantiatePrefab(ctx context.Context, path string, parent any) (any, Handle, error) {
	instantiate := func(template any) (any, error) {
		return c.instantiator.Instantiate(template, parent)
	}
	return c.load(ctx, "instantiate", path, instantiate)
}

// InstantiatePrefabAsync is the asynchronous InstantiatePrefab.
func (c *Cache) InstantiatePrefabAsync(path string, parent any, callback func(any, Handle, error)) (TaskID, error) {
	instantiator := c.instantiator
	instantiate := func(template any) (any, error) {
		return instantiator.Instantiate(template, parent)
	}
	deliver := func(value any, handle Handle, err error) {
		if callback != nil {
			callback(value, handle, err)
		}
	}
	return c.loadAsync("instantiate", path, instantiate, deliver)
}

// Clone instantiates a new item from the item behind handle. The clone
// gets its own handle and its own reference on the same bundle.
func (c *Cache) Clone(handle Handle, parent any) (any, Handle, error) {
	if err := c.checkReady("clone"); err != nil {
		return nil, 0, err
	}
	entry, ok := c.handles[handle]
	if !ok {
		return nil, 0, &Error{Code: Other, Op: "clone", Err: fmt.Errorf("unknown handle %d", handle)}
	}
	clone, err := c.instantiator.Instantiate(entry.value, parent)
	if err != nil {
		return nil, 0, &Error{Code: LoadFailed, Op: "clone", Bundle: entry.record.name, Err: err}
	}
	c.retain(entry.record)
	return clone, c.registerHandle(entry.record, clone), nil
}

// load is the synchronous path shared by LoadAsset and
// InstantiatePrefab.
func (c *Cache) load(ctx context.Context, op, path string, produce func(any) (any, error)) (any, Handle, error) {
	if err := c.checkReady(op); err != nil {
		return nil, 0, err
	}
	address, err := c.resolve(op, path)
	if err != nil {
		return nil, 0, err
	}
	if err := c.plan(address.Bundle, nil); err != nil {
		return nil, 0, withOp(err, op, path)
	}

	target := c.ensureRecord(address.Bundle, true)
	if err := c.completeInline(ctx, target); err != nil {
		return nil, 0, withOp(err, op, path)
	}
	c.retain(target)

	item, err := target.bundle.LoadAsset(ctx, address.Asset)
	if err == nil {
		item, err = produce(item)
	}
	if err != nil {
		c.release(target)
		return nil, 0, &Error{Code: LoadFailed, Op: op, Path: path, Bundle: target.name,
			Err: fmt.Errorf("asset %q: %w", address.Asset, err)}
	}
	return item, c.registerHandle(target, item), nil
}

// loadAsync is the asynchronous path shared by LoadAssetAsync and
// InstantiatePrefabAsync.
func (c *Cache) loadAsync(op, path string, produce func(any) (any, error), deliver func(any, Handle, error)) (TaskID, error) {
	if err := c.checkReady(op); err != nil {
		return 0, err
	}
	address, err := c.resolve(op, path)
	if err != nil {
		return 0, err
	}
	if err := c.plan(address.Bundle, nil); err != nil {
		return 0, withOp(err, op, path)
	}

	target := c.ensureRecord(address.Bundle, false)
	c.retain(target)

	load := newPendingLoad()
	load.path = path
	load.asset = address.Asset
	load.record = target
	load.produce = produce
	load.deliver = deliver
	return c.submitPending(load), nil
}

func (c *Cache) resolve(op, path string) (manifest.Address, error) {
	address, ok := c.registry.Resolve(path)
	if !ok {
		return manifest.Address{}, &Error{Code: UnknownPath, Op: op, Path: path}
	}
	return address, nil
}

// plan checks, before anything is registered, that bundle and every
// dependency not yet registered has a container. stack is the path
// from the requested bundle and names the requirer in errors. A
// *manifest.Registry is acyclic by construction, so the revisit check
// only guards against a broken Registry invariant.
func (c *Cache) plan(bundle string, stack []string) error {
	if slices.Contains(stack, bundle) {
		cycle := append(slices.Clone(stack[slices.Index(stack, bundle):]), bundle)
		return &Error{Code: LoadFailed, Bundle: bundle, Err: &manifest.CycleError{Cycle: cycle}}
	}
	if _, exists := c.records[bundle]; exists {
		return nil
	}
	if _, ok := c.registry.Container(bundle); !ok {
		err := &Error{Code: BundleNotFound, Bundle: bundle}
		if len(stack) > 0 {
			err.Err = fmt.Errorf("required by %s", strings.Join(stack, " -> "))
		}
		return err
	}
	stack = append(stack, bundle)
	for _, dependency := range c.registry.Dependencies(bundle) {
		if err := c.plan(dependency, stack); err != nil {
			return err
		}
	}
	return nil
}

// ensureRecord returns the record for bundle, creating it and any
// unregistered dependencies in the given mode. Asynchronous records
// start reading immediately. plan must have succeeded first.
func (c *Cache) ensureRecord(bundle string, synchronous bool) *record {
	if existing, ok := c.records[bundle]; ok {
		return existing
	}
	container, _ := c.registry.Container(bundle)
	now := c.clock.Now()
	created := &record{
		name:        bundle,
		container:   container,
		synchronous: synchronous,
		state:       stateReading,
		idleSince:   now,
		createdAt:   now,
	}
	c.records[bundle] = created

	for _, dependency := range c.registry.Dependencies(bundle) {
		dependencyRecord := c.ensureRecord(dependency, synchronous)
		dependencyRecord.dependents++
		created.dependencies = append(created.dependencies, dependencyRecord)
	}
	if !synchronous {
		c.startRead(created)
	}
	c.logger.Debug("bundle record created",
		"bundle", bundle,
		"container", container,
		"synchronous", synchronous,
		"dependencies", len(created.dependencies),
	)
	return created
}

// withOp fills in the operation and path of a cache error produced
// below the public entry points.
func withOp(err error, op, path string) error {
	cacheError, ok := err.(*Error)
	if !ok {
		return &Error{Code: Other, Op: op, Path: path, Err: err}
	}
	annotated := *cacheError
	if annotated.Op == "" {
		annotated.Op = op
	}
	if annotated.Path == "" {
		annotated.Path = path
	}
	return &annotated
}

// convert adapts a raw asset to T.
func convert[T any](item any) (any, error) {
	if value, ok := item.(T); ok {
		return value, nil
	}
	var value T
	raw, ok := item.([]byte)
	if !ok {
		return nil, fmt.Errorf("asset is %T, not %T", item, value)
	}
	if err := codec.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("decoding asset as %T: %w", value, err)
	}
	return value, nil
}
