// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundlecache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/bundlecache/lib/codec"
	"github.com/bureau-foundation/bundlecache/lib/manifest"
)

func (h *harness) references(t *testing.T, bundle string) int {
	t.Helper()
	count, ok := h.cache.GetDebugInfo()[bundle]
	if !ok {
		t.Fatalf("bundle %q is not registered (registry: %v)", bundle, h.cache.GetDebugInfo())
	}
	return count
}

func (h *harness) registered(bundle string) bool {
	_, ok := h.cache.GetDebugInfo()[bundle]
	return ok
}

func (h *harness) state(bundle string) string {
	for _, info := range h.cache.Bundles() {
		if info.Name == bundle {
			return info.State
		}
	}
	return ""
}

func TestLoadAssetDeduplicates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, firstHandle, err := LoadAsset[[]byte](ctx, h.cache, "ui/hero")
	if err != nil {
		t.Fatalf("first LoadAsset: %v", err)
	}
	second, secondHandle, err := LoadAsset[[]byte](ctx, h.cache, "ui/hero")
	if err != nil {
		t.Fatalf("second LoadAsset: %v", err)
	}

	if string(first) != "characters/hero" || string(second) != "characters/hero" {
		t.Errorf("values = %q, %q", first, second)
	}
	if firstHandle == 0 || firstHandle == secondHandle {
		t.Errorf("handles = %d, %d; want distinct non-zero", firstHandle, secondHandle)
	}
	if reads := h.reader.readCount("characters"); reads != 1 {
		t.Errorf("characters read %d times, want 1", reads)
	}
	if reads := h.reader.readCount("shared"); reads != 1 {
		t.Errorf("shared read %d times, want 1", reads)
	}
	if got := h.references(t, "characters"); got != 2 {
		t.Errorf("characters references = %d, want 2", got)
	}
	if got := h.cache.Stats().Records; got != 2 {
		t.Errorf("Stats().Records = %d, want 2", got)
	}
}

func TestAsyncLoadsDeduplicate(t *testing.T) {
	h := newHarness(t)
	var first, second asyncResult[[]byte]

	if _, err := LoadAssetAsync(h.cache, "ui/hero", first.callback); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadAssetAsync(h.cache, "ui/hero", second.callback); err != nil {
		t.Fatal(err)
	}
	h.frameUntil(t, func() bool { return first.done() && second.done() }, "both async loads")

	if first.err != nil || second.err != nil {
		t.Fatalf("errors: %v, %v", first.err, second.err)
	}
	if reads := h.reader.readCount("characters"); reads != 1 {
		t.Errorf("characters read %d times, want 1", reads)
	}
	if got := h.references(t, "characters"); got != 2 {
		t.Errorf("characters references = %d, want 2", got)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Errorf("callback calls = %d, %d", first.calls, second.calls)
	}
}

func TestDependencyReferencesPropagate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, hero, err := LoadAsset[[]byte](ctx, h.cache, "ui/hero")
	if err != nil {
		t.Fatal(err)
	}
	if got := h.references(t, "characters"); got != 1 {
		t.Errorf("characters = %d, want 1", got)
	}
	if got := h.references(t, "shared"); got != 1 {
		t.Errorf("shared = %d, want 1", got)
	}

	_, palette, err := LoadAsset[[]byte](ctx, h.cache, "shared/palette")
	if err != nil {
		t.Fatal(err)
	}
	if got := h.references(t, "shared"); got != 2 {
		t.Errorf("shared after direct load = %d, want 2", got)
	}

	h.cache.UnloadAsset(hero)
	if got := h.references(t, "characters"); got != 0 {
		t.Errorf("characters after unload = %d, want 0", got)
	}
	if got := h.references(t, "shared"); got != 1 {
		t.Errorf("shared after unload = %d, want 1", got)
	}

	h.cache.UnloadAsset(palette)
	if got := h.references(t, "shared"); got != 0 {
		t.Errorf("shared after both unloads = %d, want 0", got)
	}
}

func TestIdleEviction(t *testing.T) {
	h := newHarness(t)

	_, handle, err := LoadAsset[[]byte](context.Background(), h.cache, "ui/hero")
	if err != nil {
		t.Fatal(err)
	}
	characters := h.decoder.bundle("characters")
	h.cache.UnloadAsset(handle)

	h.clock.Advance(idleThreshold - time.Second)
	h.cache.UpdateFrame()
	if !h.registered("characters") || !h.registered("shared") {
		t.Fatal("bundles evicted before the idle threshold")
	}

	h.clock.Advance(time.Second)
	h.cache.UpdateFrame()
	if !h.registered("characters") {
		t.Fatal("bundle evicted at exactly the idle threshold")
	}

	h.clock.Advance(time.Millisecond)
	h.cache.UpdateFrame()
	if h.registered("characters") || h.registered("shared") {
		t.Fatalf("bundles still registered past the threshold: %v", h.cache.GetDebugInfo())
	}
	if !characters.closed.Load() {
		t.Error("evicted bundle was not closed")
	}
}

func TestReferencedDependencySurvivesEviction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, palette, err := LoadAsset[[]byte](ctx, h.cache, "shared/palette")
	if err != nil {
		t.Fatal(err)
	}
	_, hero, err := LoadAsset[[]byte](ctx, h.cache, "ui/hero")
	if err != nil {
		t.Fatal(err)
	}
	h.cache.UnloadAsset(hero)

	h.clock.Advance(2 * idleThreshold)
	h.cache.UpdateFrame()

	if h.registered("characters") {
		t.Error("idle characters not evicted")
	}
	if got := h.references(t, "shared"); got != 1 {
		t.Errorf("shared references = %d, want 1", got)
	}
	if _, ok := h.cache.Value(palette); !ok {
		t.Error("palette handle invalidated by eviction of another bundle")
	}
}

func TestReferenceResetsIdleTimer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, handle, err := LoadAsset[[]byte](ctx, h.cache, "shared/palette")
	if err != nil {
		t.Fatal(err)
	}
	h.cache.UnloadAsset(handle)
	h.clock.Advance(idleThreshold - time.Second)

	_, handle, err = LoadAsset[[]byte](ctx, h.cache, "shared/palette")
	if err != nil {
		t.Fatal(err)
	}
	h.cache.UnloadAsset(handle)
	h.clock.Advance(2 * time.Second)
	h.cache.UpdateFrame()

	if !h.registered("shared") {
		t.Fatal("idle timer was not reset by the second reference")
	}
	if reads := h.reader.readCount("shared"); reads != 1 {
		t.Errorf("shared read %d times, want 1", reads)
	}
}

func TestCollectIgnoresThreshold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, hero, err := LoadAsset[[]byte](ctx, h.cache, "ui/hero")
	if err != nil {
		t.Fatal(err)
	}
	_, theme, err := LoadAsset[[]byte](ctx, h.cache, "audio/theme")
	if err != nil {
		t.Fatal(err)
	}
	h.cache.UnloadAsset(hero)

	if removed := h.cache.Collect(); removed != 1 {
		t.Errorf("Collect() = %d, want 1 (characters only)", removed)
	}
	if h.registered("characters") || !h.registered("shared") || !h.registered("audio") {
		t.Errorf("registry after Collect: %v", h.cache.GetDebugInfo())
	}

	h.cache.UnloadAsset(theme)
	if removed := h.cache.Collect(); removed != 2 {
		t.Errorf("second Collect() = %d, want 2", removed)
	}
	if len(h.cache.GetDebugInfo()) != 0 {
		t.Errorf("registry not empty: %v", h.cache.GetDebugInfo())
	}
}

func TestAsyncProgressContract(t *testing.T) {
	h := newHarness(t)
	gate := h.reader.gate("characters")

	if got := h.cache.QueryProgress(999); got != -1 {
		t.Errorf("unknown task progress = %v, want -1", got)
	}

	var result asyncResult[[]byte]
	id, err := LoadAssetAsync(h.cache, "ui/hero", result.callback)
	if err != nil {
		t.Fatal(err)
	}
	if id == 0 {
		t.Fatal("task ID is zero")
	}
	if got := h.cache.QueryProgress(id); got != 0 {
		t.Errorf("progress after submit = %v, want 0", got)
	}

	h.cache.UpdateFrame()
	if got := h.cache.QueryProgress(id); got != 0 {
		t.Errorf("progress while read is blocked = %v, want 0", got)
	}
	if result.done() {
		t.Fatal("callback fired while the bundle was still reading")
	}

	close(gate)
	h.frameUntil(t, result.done, "async load")

	if result.err != nil {
		t.Fatalf("callback error: %v", result.err)
	}
	if string(result.value) != "characters/hero" {
		t.Errorf("value = %q", result.value)
	}
	if got := h.cache.QueryProgress(id); got != 1 {
		t.Errorf("progress in the completing frame = %v, want 1", got)
	}

	h.cache.UpdateFrame()
	if got := h.cache.QueryProgress(id); got != -1 {
		t.Errorf("progress after expiry = %v, want -1", got)
	}
	if _, ok := h.cache.Value(result.handle); !ok {
		t.Error("async handle not registered")
	}
	if result.calls != 1 {
		t.Errorf("callback ran %d times", result.calls)
	}
}

func TestAsyncWaitsForDependencies(t *testing.T) {
	h := newHarness(t)
	gate := h.reader.gate("shared")

	var result asyncResult[[]byte]
	id, err := LoadAssetAsync(h.cache, "ui/hero", result.callback)
	if err != nil {
		t.Fatal(err)
	}

	h.frameUntil(t, func() bool { return h.state("characters") == "awaiting-dependencies" }, "characters decoded")
	if got := h.cache.QueryProgress(id); got != 0 {
		t.Errorf("progress with a dependency outstanding = %v, want 0", got)
	}
	if result.done() {
		t.Fatal("callback fired before the dependency was ready")
	}

	close(gate)
	h.frameUntil(t, result.done, "async load")
	if result.err != nil {
		t.Fatal(result.err)
	}
	if h.state("shared") != "ready" {
		t.Errorf("shared state = %s", h.state("shared"))
	}
}

func TestDoubleUnloadIsTolerated(t *testing.T) {
	h := newHarness(t)

	_, handle, err := LoadAsset[[]byte](context.Background(), h.cache, "ui/hero")
	if err != nil {
		t.Fatal(err)
	}
	h.cache.UnloadAsset(handle)
	h.cache.UnloadAsset(handle)
	h.cache.UnloadAsset(Handle(12345))

	if got := h.references(t, "characters"); got != 0 {
		t.Errorf("characters references = %d, want 0", got)
	}
	if got := h.references(t, "shared"); got != 0 {
		t.Errorf("shared references = %d, want 0", got)
	}
}

func TestUnknownPathLeavesRegistryUntouched(t *testing.T) {
	h := newHarness(t)

	_, _, err := LoadAsset[[]byte](context.Background(), h.cache, "no/such/path")
	if !errors.Is(err, ErrUnknownPath) {
		t.Fatalf("LoadAsset error = %v, want ErrUnknownPath", err)
	}
	if CodeOf(err) != UnknownPath {
		t.Errorf("CodeOf = %v", CodeOf(err))
	}

	id, err := LoadAssetAsync[[]byte](h.cache, "no/such/path", func([]byte, Handle, error) {
		t.Error("callback invoked for an unknown path")
	})
	if !errors.Is(err, ErrUnknownPath) || id != 0 {
		t.Fatalf("LoadAssetAsync = %d, %v", id, err)
	}

	h.cache.UpdateFrame()
	stats := h.cache.Stats()
	if stats.Records != 0 || stats.PendingLoads != 0 || stats.Handles != 0 {
		t.Fatalf("registry mutated: %+v", stats)
	}
}

func TestBundleNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, path := range []string{"orphan/thing", "broken/thing"} {
		_, _, err := LoadAsset[[]byte](ctx, h.cache, path)
		if !errors.Is(err, ErrBundleNotFound) {
			t.Errorf("LoadAsset(%q) = %v, want ErrBundleNotFound", path, err)
		}
		if _, err := LoadAssetAsync[[]byte](h.cache, path, nil); !errors.Is(err, ErrBundleNotFound) {
			t.Errorf("LoadAssetAsync(%q) = %v, want ErrBundleNotFound", path, err)
		}
	}
	if len(h.cache.GetDebugInfo()) != 0 {
		t.Fatalf("records created for unresolvable bundles: %v", h.cache.GetDebugInfo())
	}
}

func TestNotInitialized(t *testing.T) {
	cache, err := New(Options{Reader: newFakeReader(), Decoder: newFakeDecoder()})
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	if _, _, err := LoadAsset[[]byte](context.Background(), cache, "ui/hero"); !errors.Is(err, ErrNotInited) {
		t.Errorf("LoadAsset before init = %v", err)
	}
	if _, err := cache.InstantiatePrefabAsync("ui/hero", nil, nil); !errors.Is(err, ErrNotInited) {
		t.Errorf("InstantiatePrefabAsync before init = %v", err)
	}
	cache.UpdateFrame()
	if got := cache.QueryProgress(1); got != -1 {
		t.Errorf("QueryProgress before init = %v", got)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{Decoder: newFakeDecoder()}); err == nil {
		t.Error("New without a reader succeeded")
	}
	if _, err := New(Options{Reader: newFakeReader()}); err == nil {
		t.Error("New without a decoder succeeded")
	}
}

func TestInitFromManifestBlock(t *testing.T) {
	reader := newFakeReader()
	reader.blocks["manifest"] = []byte(testManifest)
	cache, err := New(Options{Reader: reader, Decoder: newFakeDecoder(), ContainerDirectory: "/packs"})
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	if err := cache.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if cache.Registry() == nil {
		t.Fatal("Registry() nil after Init")
	}
	if _, _, err := LoadAsset[[]byte](context.Background(), cache, "audio/theme"); err != nil {
		t.Fatalf("LoadAsset after Init: %v", err)
	}
	if err := cache.Init(context.Background()); !errors.Is(err, ErrInitFailed) {
		t.Errorf("second Init = %v, want ErrInitFailed", err)
	}
}

func TestInitFailures(t *testing.T) {
	tests := []struct {
		name     string
		manifest []byte
	}{
		{"missing manifest", nil},
		{"unterminated", []byte("a,b\n")},
		{"cycle", []byte("a,b\nb,a\n#\n#\n#\n")},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			reader := newFakeReader()
			if test.manifest != nil {
				reader.blocks["manifest"] = test.manifest
			}
			cache, err := New(Options{Reader: reader, Decoder: newFakeDecoder()})
			if err != nil {
				t.Fatal(err)
			}
			defer cache.Close()

			err = cache.Init(context.Background())
			if !errors.Is(err, ErrInitFailed) {
				t.Fatalf("Init = %v, want ErrInitFailed", err)
			}
			if test.name == "cycle" {
				var cycleError *manifest.CycleError
				if !errors.As(err, &cycleError) {
					t.Errorf("cycle error not reachable through %v", err)
				}
			}
		})
	}
}

func TestAsyncFailureReachesCallback(t *testing.T) {
	h := newHarness(t)
	h.reader.fail("characters", errors.New("disk on fire"))

	var result asyncResult[[]byte]
	id, err := LoadAssetAsync(h.cache, "ui/hero", result.callback)
	if err != nil {
		t.Fatalf("submission error: %v", err)
	}
	h.frameUntil(t, result.done, "failure callback")

	if !errors.Is(result.err, ErrLoadFailed) {
		t.Fatalf("callback error = %v, want ErrLoadFailed", result.err)
	}
	if !strings.Contains(result.err.Error(), "disk on fire") {
		t.Errorf("callback error %q lost the cause", result.err)
	}
	if result.handle != 0 {
		t.Errorf("failed load issued handle %d", result.handle)
	}
	if got := h.cache.QueryProgress(id); got != -1 {
		t.Errorf("failed task progress = %v, want -1", got)
	}
	if h.registered("characters") {
		t.Error("failed record not removed by the sweep")
	}

	// Failures are not sticky: the next request reads again.
	h.reader.fail("characters", nil)
	if _, _, err := LoadAsset[[]byte](context.Background(), h.cache, "ui/hero"); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestDependencyFailurePropagates(t *testing.T) {
	h := newHarness(t)
	h.reader.fail("shared", errors.New("corrupt block"))

	var result asyncResult[[]byte]
	if _, err := LoadAssetAsync(h.cache, "ui/hero", result.callback); err != nil {
		t.Fatal(err)
	}
	h.frameUntil(t, result.done, "failure callback")

	if !errors.Is(result.err, ErrLoadFailed) {
		t.Fatalf("callback error = %v", result.err)
	}
	if !strings.Contains(result.err.Error(), `"shared"`) {
		t.Errorf("error %q does not name the failed dependency", result.err)
	}

	h.cache.UpdateFrame()
	if len(h.cache.GetDebugInfo()) != 0 {
		t.Errorf("failed records linger: %v", h.cache.GetDebugInfo())
	}
}

func TestSynchronousFailure(t *testing.T) {
	h := newHarness(t)
	h.decoder.failures["characters"] = errors.New("bad payload")

	_, _, err := LoadAsset[[]byte](context.Background(), h.cache, "ui/hero")
	if !errors.Is(err, ErrLoadFailed) {
		t.Fatalf("LoadAsset = %v, want ErrLoadFailed", err)
	}
	if !strings.Contains(err.Error(), "bad payload") {
		t.Errorf("error %q lost the cause", err)
	}

	h.cache.UpdateFrame()
	if len(h.cache.GetDebugInfo()) != 0 {
		t.Errorf("records after failed sync load: %v", h.cache.GetDebugInfo())
	}
}

func TestSynchronousLoadFinishesAsyncRecordInline(t *testing.T) {
	h := newHarness(t)
	gate := h.reader.gate("characters")

	var result asyncResult[[]byte]
	if _, err := LoadAssetAsync(h.cache, "ui/hero", result.callback); err != nil {
		t.Fatal(err)
	}

	go close(gate)
	value, handle, err := LoadAsset[[]byte](context.Background(), h.cache, "ui/hero")
	if err != nil {
		t.Fatalf("LoadAsset: %v", err)
	}
	if string(value) != "characters/hero" || handle == 0 {
		t.Errorf("LoadAsset = %q, %d", value, handle)
	}
	if result.done() {
		t.Fatal("async callback ran inside the synchronous load")
	}
	if reads := h.reader.readCount("characters"); reads != 1 {
		t.Errorf("characters read %d times, want 1", reads)
	}
	for _, info := range h.cache.Bundles() {
		if info.Name == "characters" && info.Synchronous {
			t.Error("record changed to synchronous")
		}
	}

	h.frameUntil(t, result.done, "async callback")
	if result.err != nil {
		t.Fatal(result.err)
	}
	if got := h.references(t, "characters"); got != 2 {
		t.Errorf("characters references = %d, want 2", got)
	}
}

func TestSynchronousLoadHonorsContext(t *testing.T) {
	h := newHarness(t)
	gate := h.reader.gate("characters")
	defer close(gate)

	var result asyncResult[[]byte]
	if _, err := LoadAssetAsync(h.cache, "ui/hero", result.callback); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := LoadAsset[[]byte](ctx, h.cache, "ui/hero")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("LoadAsset with cancelled context = %v", err)
	}
	if h.state("characters") != "reading" {
		t.Errorf("cancelled wait changed record state to %s", h.state("characters"))
	}
	if got := h.references(t, "characters"); got != 1 {
		t.Errorf("characters references = %d, want 1 (the pending load)", got)
	}
}

func TestInterruptedSynchronousLoadIsSwept(t *testing.T) {
	h := newHarness(t)
	gate := h.reader.gate("shared")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err := LoadAsset[[]byte](ctx, h.cache, "ui/hero")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("LoadAsset = %v, want deadline exceeded", err)
	}
	if h.state("characters") != "awaiting-dependencies" || h.state("shared") != "reading" {
		t.Fatalf("states after interrupted load: characters=%s shared=%s",
			h.state("characters"), h.state("shared"))
	}

	// Nothing references either record, so no threshold applies.
	h.cache.UpdateFrame()
	if h.registered("characters") || h.registered("shared") {
		t.Fatalf("interrupted records still registered: %v", h.cache.GetDebugInfo())
	}
	if !h.decoder.bundle("characters").closed.Load() {
		t.Error("decoded characters bundle was not closed on eviction")
	}

	close(gate)
	data, handle, err := LoadAsset[[]byte](context.Background(), h.cache, "ui/hero")
	if err != nil {
		t.Fatalf("retry after eviction: %v", err)
	}
	if string(data) != "characters/hero" {
		t.Errorf("retry data = %q", data)
	}
	h.cache.UnloadAsset(handle)
}

func TestInterruptedSynchronousLoadResumesWhenReferenced(t *testing.T) {
	h := newHarness(t)
	gate := h.reader.gate("shared")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, _, err := LoadAsset[[]byte](ctx, h.cache, "ui/hero"); err == nil {
		t.Fatal("LoadAsset succeeded past a gated dependency")
	}

	var result asyncResult[[]byte]
	if _, err := LoadAssetAsync(h.cache, "ui/hero", result.callback); err != nil {
		t.Fatal(err)
	}
	h.cache.UpdateFrame()
	if !h.registered("characters") || !h.registered("shared") {
		t.Fatalf("referenced records were swept: %v", h.cache.GetDebugInfo())
	}

	close(gate)
	h.frameUntil(t, result.done, "async load after interrupted sync load")
	if result.err != nil {
		t.Fatalf("async load: %v", result.err)
	}
	h.cache.UnloadAsset(result.handle)
}

func TestCancelSuppressesCallback(t *testing.T) {
	h := newHarness(t)
	gate := h.reader.gate("characters")

	var result asyncResult[[]byte]
	id, err := LoadAssetAsync(h.cache, "ui/hero", result.callback)
	if err != nil {
		t.Fatal(err)
	}
	if !h.cache.Cancel(id) {
		t.Fatal("Cancel returned false for a pending load")
	}
	if h.cache.Cancel(id) {
		t.Error("second Cancel returned true")
	}
	if got := h.cache.QueryProgress(id); got != -1 {
		t.Errorf("progress after cancel = %v, want -1", got)
	}

	close(gate)
	h.frameUntil(t, func() bool { return h.state("characters") == "ready" }, "bundle ready")
	h.cache.UpdateFrame()

	if result.calls != 0 {
		t.Fatalf("callback ran %d times after cancel", result.calls)
	}
	if got := h.references(t, "characters"); got != 0 {
		t.Errorf("characters references = %d, want 0", got)
	}
}

func TestCancelFromCallback(t *testing.T) {
	h := newHarness(t)
	gate := h.reader.gate("audio")

	var blocked asyncResult[[]byte]
	blockedID, err := LoadAssetAsync(h.cache, "audio/theme", blocked.callback)
	if err != nil {
		t.Fatal(err)
	}
	var first asyncResult[[]byte]
	_, err = LoadAssetAsync(h.cache, "shared/palette", func(value []byte, handle Handle, err error) {
		first.callback(value, handle, err)
		h.cache.Cancel(blockedID)
	})
	if err != nil {
		t.Fatal(err)
	}

	h.frameUntil(t, first.done, "palette load")
	close(gate)
	h.frameUntil(t, func() bool { return h.state("audio") == "ready" }, "audio ready")
	h.cache.UpdateFrame()

	if blocked.calls != 0 {
		t.Fatal("cancelled load's callback ran")
	}
	if h.cache.Stats().PendingLoads != 0 {
		t.Errorf("pending loads = %d", h.cache.Stats().PendingLoads)
	}
}

func TestInstantiateAndClone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	value, handle, err := h.cache.InstantiatePrefab(ctx, "ui/hero", "scene-root")
	if err != nil {
		t.Fatalf("InstantiatePrefab: %v", err)
	}
	instance, ok := value.(*Instance)
	if !ok {
		t.Fatalf("instance type %T", value)
	}
	if instance.Parent != "scene-root" || string(instance.Value.([]byte)) != "characters/hero" {
		t.Errorf("instance = %+v", instance)
	}
	if stored, _ := h.cache.Value(handle); stored != value {
		t.Error("handle does not refer to the instance")
	}
	if got := h.references(t, "characters"); got != 1 {
		t.Errorf("references after instantiate = %d, want 1", got)
	}

	cloned, cloneHandle, err := h.cache.Clone(handle, "other-parent")
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	clone := cloned.(*Instance)
	if clone == instance || clone.Parent != "other-parent" {
		t.Errorf("clone = %+v", clone)
	}
	if string(clone.Value.([]byte)) != "characters/hero" {
		t.Errorf("clone value = %q", clone.Value)
	}
	if got := h.references(t, "characters"); got != 2 {
		t.Errorf("references after clone = %d, want 2", got)
	}

	h.cache.UnloadAsset(handle)
	if _, ok := h.cache.Value(cloneHandle); !ok {
		t.Error("clone handle invalidated by unloading the original")
	}
	if _, _, err := h.cache.Clone(handle, nil); !errors.Is(err, ErrOther) {
		t.Errorf("Clone of unloaded handle = %v, want ErrOther", err)
	}
	h.cache.UnloadAsset(cloneHandle)
	if got := h.references(t, "characters"); got != 0 {
		t.Errorf("references after unloading both = %d", got)
	}
}

func TestInstantiatePrefabAsync(t *testing.T) {
	h := newHarness(t)

	var result asyncResult[any]
	if _, err := h.cache.InstantiatePrefabAsync("ui/hero", "root", result.callback); err != nil {
		t.Fatal(err)
	}
	h.frameUntil(t, result.done, "async instantiate")

	if result.err != nil {
		t.Fatal(result.err)
	}
	instance, ok := result.value.(*Instance)
	if !ok || instance.Parent != "root" {
		t.Fatalf("value = %#v", result.value)
	}
	if stored, _ := h.cache.Value(result.handle); stored != result.value {
		t.Error("handle does not refer to the instance")
	}
}

func TestTypedLoading(t *testing.T) {
	type palette struct {
		Colors []string `cbor:"colors"`
	}
	h := newHarness(t)
	encoded, err := codec.Marshal(palette{Colors: []string{"red", "blue"}})
	if err != nil {
		t.Fatal(err)
	}
	h.decoder.typed["shared/palette"] = encoded
	h.decoder.typed["audio/theme"] = 42
	ctx := context.Background()

	decoded, _, err := LoadAsset[palette](ctx, h.cache, "shared/palette")
	if err != nil {
		t.Fatalf("LoadAsset[palette]: %v", err)
	}
	if len(decoded.Colors) != 2 || decoded.Colors[1] != "blue" {
		t.Errorf("palette = %+v", decoded)
	}

	number, _, err := LoadAsset[int](ctx, h.cache, "audio/theme")
	if err != nil || number != 42 {
		t.Errorf("LoadAsset[int] = %d, %v", number, err)
	}

	_, _, err = LoadAsset[string](ctx, h.cache, "audio/theme")
	if !errors.Is(err, ErrLoadFailed) {
		t.Fatalf("type mismatch error = %v, want ErrLoadFailed", err)
	}
	if got := h.references(t, "audio"); got != 1 {
		t.Errorf("audio references after failed conversion = %d, want 1", got)
	}

	var result asyncResult[palette]
	if _, err := LoadAssetAsync(h.cache, "shared/palette", result.callback); err != nil {
		t.Fatal(err)
	}
	h.frameUntil(t, result.done, "typed async load")
	if result.err != nil || len(result.value.Colors) != 2 {
		t.Errorf("async palette = %+v, %v", result.value, result.err)
	}
}

func TestMissingAssetIsLoadFailed(t *testing.T) {
	h := newHarness(t)

	_, _, err := LoadAsset[[]byte](context.Background(), h.cache, "ui/missing-asset")
	if !errors.Is(err, ErrLoadFailed) {
		t.Fatalf("error = %v, want ErrLoadFailed", err)
	}
	if got := h.references(t, "characters"); got != 0 {
		t.Errorf("references after failed asset load = %d, want 0", got)
	}
	if h.state("characters") != "ready" {
		t.Errorf("bundle state = %s, want ready", h.state("characters"))
	}

	var result asyncResult[[]byte]
	if _, err := LoadAssetAsync(h.cache, "ui/missing-asset", result.callback); err != nil {
		t.Fatal(err)
	}
	h.frameUntil(t, result.done, "async missing asset")
	if !errors.Is(result.err, ErrLoadFailed) {
		t.Errorf("async error = %v", result.err)
	}
	if got := h.references(t, "characters"); got != 0 {
		t.Errorf("references after failed async asset load = %d, want 0", got)
	}
}

func TestCloseDropsPendingLoads(t *testing.T) {
	h := newHarness(t)
	gate := h.reader.gate("characters")
	defer close(gate)

	var result asyncResult[[]byte]
	if _, err := LoadAssetAsync(h.cache, "ui/hero", result.callback); err != nil {
		t.Fatal(err)
	}
	_, palette, err := LoadAsset[[]byte](context.Background(), h.cache, "shared/palette")
	if err != nil {
		t.Fatal(err)
	}
	shared := h.decoder.bundle("shared")

	if err := h.cache.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	h.cache.UpdateFrame()

	if result.calls != 0 {
		t.Error("callback ran after Close")
	}
	if !shared.closed.Load() {
		t.Error("Close left a bundle open")
	}
	if _, ok := h.cache.Value(palette); ok {
		t.Error("handle survived Close")
	}
	if _, _, err := LoadAsset[[]byte](context.Background(), h.cache, "ui/hero"); !errors.Is(err, ErrNotInited) {
		t.Errorf("LoadAsset after Close = %v, want ErrNotInited", err)
	}
	if err := h.cache.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestHandlesAreNeverReused(t *testing.T) {
	h := newHarness(t)
	seen := make(map[Handle]bool)
	for range 5 {
		_, handle, err := LoadAsset[[]byte](context.Background(), h.cache, "shared/palette")
		if err != nil {
			t.Fatal(err)
		}
		if seen[handle] {
			t.Fatalf("handle %d reused", handle)
		}
		seen[handle] = true
		h.cache.UnloadAsset(handle)
	}
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	gate := h.reader.gate("audio")
	defer close(gate)

	if _, _, err := LoadAsset[[]byte](context.Background(), h.cache, "ui/hero"); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadAssetAsync[[]byte](h.cache, "audio/theme", nil); err != nil {
		t.Fatal(err)
	}
	h.cache.UpdateFrame()

	stats := h.cache.Stats()
	if stats.Records != 3 || stats.Ready != 2 || stats.Loading != 1 {
		t.Errorf("Stats = %+v", stats)
	}
	if stats.Handles != 1 || stats.PendingLoads != 1 {
		t.Errorf("Stats = %+v", stats)
	}
	if stats.Frame != 1 {
		t.Errorf("Frame = %d", stats.Frame)
	}
}
