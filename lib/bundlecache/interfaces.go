// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundlecache

import (
	"bytes"
	"context"
)

// BlockReader fetches raw bundle bytes out of a container. Called
// concurrently from pool workers; the decryption key is bound into the
// implementation. *container.Reader satisfies it.
type BlockReader interface {
	ReadBlock(ctx context.Context, containerPath, blockName string) ([]byte, error)
}

// Decoder turns raw bundle bytes into a Bundle. Called concurrently
// from pool workers and, for synchronous loads, from the driving
// goroutine.
type Decoder interface {
	Decode(ctx context.Context, name string, data []byte) (Bundle, error)
}

// Bundle is a decoded bundle. LoadAsset may run on a pool worker while
// other goroutines call LoadAsset on the same bundle. Close is called
// once, by the eviction sweep, after every load on it has finished.
type Bundle interface {
	LoadAsset(ctx context.Context, name string) (any, error)
	Close() error
}

// Instantiator derives a live instance from a template asset. Called
// from pool workers for asynchronous instantiation, so implementations
// must be safe for concurrent use.
type Instantiator interface {
	Instantiate(template, parent any) (any, error)
}

// Instance is the value CopyInstantiator produces.
type Instance struct {
	// Value is a private copy of the template.
	Value any
	// Parent is the parent passed to the instantiate or clone call.
	Parent any
}

// Copier is implemented by template values that know how to copy
// themselves.
type Copier interface {
	Copy() any
}

// CopyInstantiator instantiates by copying: byte slices are cloned,
// Copier values copy themselves, and other values are shared. Cloning
// an *Instance copies its Value.
type CopyInstantiator struct{}

// Instantiate implements Instantiator.
func (CopyInstantiator) Instantiate(template, parent any) (any, error) {
	if instance, ok := template.(*Instance); ok {
		template = instance.Value
	}
	return &Instance{Value: copyValue(template), Parent: parent}, nil
}

func copyValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return bytes.Clone(typed)
	case Copier:
		return typed.Copy()
	default:
		return value
	}
}
