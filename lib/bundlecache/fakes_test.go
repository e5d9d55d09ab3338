// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundlecache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/bundlecache/lib/clock"
	"github.com/bureau-foundation/bundlecache/lib/manifest"
	"github.com/bureau-foundation/bundlecache/lib/testutil"
)

var errMissingBlock = errors.New("block not found")

// fakeReader serves blocks from memory, preloaded with a payload for
// every bundle in testManifest. A gated block blocks until its gate is
// closed or the read is cancelled.
type fakeReader struct {
	mu       sync.Mutex
	blocks   map[string][]byte
	failures map[string]error
	gates    map[string]chan struct{}
	reads    map[string]int
}

func newFakeReader() *fakeReader {
	reader := &fakeReader{
		blocks:   make(map[string][]byte),
		failures: make(map[string]error),
		gates:    make(map[string]chan struct{}),
		reads:    make(map[string]int),
	}
	for _, bundle := range []string{"characters", "audio", "shared", "broken"} {
		reader.blocks[bundle] = []byte("payload:" + bundle)
	}
	return reader
}

func (f *fakeReader) ReadBlock(ctx context.Context, containerPath, blockName string) ([]byte, error) {
	f.mu.Lock()
	f.reads[blockName]++
	gate := f.gates[blockName]
	data, found := f.blocks[blockName]
	failure := f.failures[blockName]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failure != nil {
		return nil, failure
	}
	if !found {
		return nil, fmt.Errorf("%w: %q in %s", errMissingBlock, blockName, containerPath)
	}
	return data, nil
}

func (f *fakeReader) gate(block string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gates[block] = gate
	return gate
}

func (f *fakeReader) fail(block string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[block] = err
}

func (f *fakeReader) readCount(block string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads[block]
}

// fakeDecoder produces fakeBundles. Assets named "missing" do not
// exist; assets listed in typed are returned as given; every other
// asset is the bytes "bundle/asset".
type fakeDecoder struct {
	mu       sync.Mutex
	typed    map[string]any
	failures map[string]error
	decoded  map[string]*fakeBundle
}

func newFakeDecoder() *fakeDecoder {
	return &fakeDecoder{
		typed:    make(map[string]any),
		failures: make(map[string]error),
		decoded:  make(map[string]*fakeBundle),
	}
}

func (f *fakeDecoder) Decode(ctx context.Context, name string, data []byte) (Bundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures[name]; err != nil {
		return nil, err
	}
	bundle := &fakeBundle{name: name, typed: f.typed}
	f.decoded[name] = bundle
	return bundle, nil
}

func (f *fakeDecoder) bundle(name string) *fakeBundle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.decoded[name]
}

type fakeBundle struct {
	name   string
	typed  map[string]any
	closed atomic.Bool
}

func (b *fakeBundle) LoadAsset(ctx context.Context, name string) (any, error) {
	if b.closed.Load() {
		return nil, errors.New("bundle closed")
	}
	if name == "missing" {
		return nil, errors.New("no such asset")
	}
	if value, ok := b.typed[b.name+"/"+name]; ok {
		return value, nil
	}
	return []byte(b.name + "/" + name), nil
}

func (b *fakeBundle) Close() error {
	b.closed.Store(true)
	return nil
}

// testManifest:
//
//	hero  -> characters -> shared
//	theme -> audio      -> shared
//	orphan has no container; broken depends on orphan.
const testManifest = `
characters,shared
audio,shared
broken,orphan
#
ui/hero|hero|characters
ui/missing-asset|missing|characters
audio/theme|theme|audio
shared/palette|palette|shared
broken/thing|thing|broken
orphan/thing|thing|orphan
#
characters|characters.pak
audio|audio.pak
shared|base.pak
broken|broken.pak
#
`

const idleThreshold = 10 * time.Second

type harness struct {
	cache   *Cache
	reader  *fakeReader
	decoder *fakeDecoder
	clock   *clock.FakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reader := newFakeReader()
	decoder := newFakeDecoder()
	fakeClock := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	cache, err := New(Options{
		Reader:        reader,
		Decoder:       decoder,
		IdleThreshold: idleThreshold,
		Workers:       4,
		Clock:         fakeClock,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	registry, err := manifest.ParseBytes([]byte(testManifest))
	if err != nil {
		t.Fatalf("parsing test manifest: %v", err)
	}
	if err := cache.InitRegistry(registry); err != nil {
		t.Fatalf("InitRegistry: %v", err)
	}
	return &harness{cache: cache, reader: reader, decoder: decoder, clock: fakeClock}
}

// frameUntil runs UpdateFrame until condition holds.
func (h *harness) frameUntil(t *testing.T, condition func() bool, msgAndArgs ...any) {
	t.Helper()
	testutil.Eventually(t, 5*time.Second, func() bool {
		h.cache.UpdateFrame()
		return condition()
	}, msgAndArgs...)
}

// asyncResult collects one callback invocation.
type asyncResult[T any] struct {
	value  T
	handle Handle
	err    error
	calls  int
}

func (r *asyncResult[T]) callback(value T, handle Handle, err error) {
	r.value, r.handle, r.err = value, handle, err
	r.calls++
}

func (r *asyncResult[T]) done() bool { return r.calls > 0 }
