// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/bureau-foundation/bundlecache/lib/bundlecache"
	"github.com/bureau-foundation/bundlecache/lib/codec"
)

var (
	// ErrAssetNotFound is returned by LoadAsset for a name the bundle
	// does not contain.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrClosed is returned by LoadAsset after Close.
	ErrClosed = errors.New("bundle closed")
)

// payload is the CBOR form of a bundle block.
type payload struct {
	Name   string            `cbor:"name"`
	Assets map[string][]byte `cbor:"assets"`
}

// Encode returns the block payload for a bundle named name.
func Encode(name string, assets map[string][]byte) ([]byte, error) {
	if name == "" {
		return nil, errors.New("bundle name is empty")
	}
	for assetName := range assets {
		if assetName == "" {
			return nil, fmt.Errorf("bundle %q: empty asset name", name)
		}
	}
	if assets == nil {
		assets = map[string][]byte{}
	}
	return codec.Marshal(payload{Name: name, Assets: assets})
}

// Bundle is a decoded bundle. It is safe for concurrent use: the cache
// loads assets from pool workers while the driving goroutine may close
// an evicted bundle.
type Bundle struct {
	name string

	mu     sync.RWMutex
	assets map[string][]byte
	closed bool
}

// Name returns the bundle's name.
func (b *Bundle) Name() string { return b.name }

// Assets returns the asset names in sorted order.
func (b *Bundle) Assets() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.assets))
	for name := range b.assets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Size returns the total size of the asset bytes.
func (b *Bundle) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := 0
	for _, data := range b.assets {
		total += len(data)
	}
	return total
}

// LoadAsset returns a copy of the named asset's bytes.
func (b *Bundle) LoadAsset(ctx context.Context, name string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("%s: %w", b.name, ErrClosed)
	}
	data, ok := b.assets[name]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", b.name, name, ErrAssetNotFound)
	}
	return bytes.Clone(data), nil
}

// Close drops the asset data. Idempotent.
func (b *Bundle) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.assets = nil
	return nil
}

// Decoder decodes bundle blocks.
type Decoder struct{}

var _ bundlecache.Decoder = Decoder{}

// Decode parses a bundle block. The payload must name the bundle it
// was stored as, so a block copied under the wrong name is rejected.
func (Decoder) Decode(ctx context.Context, name string, data []byte) (bundlecache.Bundle, error) {
	decoded, err := Decode(ctx, name, data)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

// Decode parses a bundle block into a *Bundle.
func Decode(ctx context.Context, name string, data []byte) (*Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var decoded payload
	if err := codec.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decoding bundle %q: %w", name, err)
	}
	if decoded.Name != name {
		return nil, fmt.Errorf("block %q holds bundle %q", name, decoded.Name)
	}
	if decoded.Assets == nil {
		decoded.Assets = map[string][]byte{}
	}
	return &Bundle{name: name, assets: decoded.Assets}, nil
}
