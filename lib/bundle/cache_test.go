// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/bundlecache/lib/bundle"
	"github.com/bureau-foundation/bundlecache/lib/bundlecache"
	"github.com/bureau-foundation/bundlecache/lib/codec"
	"github.com/bureau-foundation/bundlecache/lib/container"
	"github.com/bureau-foundation/bundlecache/lib/manifest"
	"github.com/bureau-foundation/bundlecache/lib/testutil"
)

type stats struct {
	Health int `cbor:"health"`
	Speed  int `cbor:"speed"`
}

// writePack writes base.pak (manifest and shared) and characters.pak
// into a fresh directory and returns it.
func writePack(t *testing.T, keys *container.KeySet) string {
	t.Helper()
	directory := t.TempDir()

	heroStats, err := codec.Marshal(stats{Health: 100, Speed: 7})
	if err != nil {
		t.Fatal(err)
	}
	characters, err := bundle.Encode("characters", map[string][]byte{
		"hero":       []byte("hero mesh"),
		"hero-stats": heroStats,
	})
	if err != nil {
		t.Fatal(err)
	}
	shared, err := bundle.Encode("shared", map[string][]byte{
		"palette": []byte("red green blue"),
	})
	if err != nil {
		t.Fatal(err)
	}

	registry, err := manifest.New(
		map[string][]string{"characters": {"shared"}},
		[]manifest.Address{
			{Path: "ui/hero", Asset: "hero", Bundle: "characters"},
			{Path: "data/hero", Asset: "hero-stats", Bundle: "characters"},
			{Path: "shared/palette", Asset: "palette", Bundle: "shared"},
		},
		map[string]string{"characters": "characters.pak", "shared": "base.pak"},
	)
	if err != nil {
		t.Fatal(err)
	}

	base := container.NewWriter(keys)
	if err := base.Add("manifest", registry.Bytes()); err != nil {
		t.Fatal(err)
	}
	if err := base.Add("shared", shared); err != nil {
		t.Fatal(err)
	}
	if err := base.WriteFile(filepath.Join(directory, "base.pak")); err != nil {
		t.Fatal(err)
	}

	pack := container.NewWriter(keys)
	if err := pack.Add("characters", characters); err != nil {
		t.Fatal(err)
	}
	if err := pack.WriteFile(filepath.Join(directory, "characters.pak")); err != nil {
		t.Fatal(err)
	}
	return directory
}

func newKeys(t *testing.T) *container.KeySet {
	t.Helper()
	key, err := container.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	keys, err := container.NewKeySet(key)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { keys.Close() })
	return keys
}

func newCache(t *testing.T, keys *container.KeySet, directory string) *bundlecache.Cache {
	t.Helper()
	cache, err := bundlecache.New(bundlecache.Options{
		Reader:             container.NewReader(keys, nil),
		Decoder:            bundle.Decoder{},
		ContainerDirectory: directory,
		Workers:            2,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestCacheOverContainers(t *testing.T) {
	keys := newKeys(t)
	directory := writePack(t, keys)
	cache := newCache(t, keys, directory)
	ctx := context.Background()

	if err := cache.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	mesh, handle, err := bundlecache.LoadAsset[[]byte](ctx, cache, "ui/hero")
	if err != nil {
		t.Fatalf("LoadAsset: %v", err)
	}
	if string(mesh) != "hero mesh" {
		t.Errorf("hero = %q", mesh)
	}

	heroStats, _, err := bundlecache.LoadAsset[stats](ctx, cache, "data/hero")
	if err != nil {
		t.Fatalf("LoadAsset[stats]: %v", err)
	}
	if heroStats != (stats{Health: 100, Speed: 7}) {
		t.Errorf("stats = %+v", heroStats)
	}

	debug := cache.GetDebugInfo()
	if debug["characters"] != 2 || debug["shared"] != 2 {
		t.Errorf("debug info = %v", debug)
	}

	var palette []byte
	var paletteErr error
	done := make(chan struct{})
	_, err = bundlecache.LoadAssetAsync(cache, "shared/palette", func(value []byte, _ bundlecache.Handle, err error) {
		palette, paletteErr = value, err
		close(done)
	})
	if err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, 5*time.Second, func() bool {
		cache.UpdateFrame()
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, "async palette load")
	if paletteErr != nil || string(palette) != "red green blue" {
		t.Errorf("palette = %q, %v", palette, paletteErr)
	}

	cache.UnloadAsset(handle)
	if got := cache.GetDebugInfo()["characters"]; got != 1 {
		t.Errorf("characters after unload = %d, want 1", got)
	}
}

func TestCacheMissingAsset(t *testing.T) {
	keys := newKeys(t)
	directory := writePack(t, keys)

	// A registry naming an asset the packed bundle lacks.
	registry, err := manifest.New(nil,
		[]manifest.Address{{Path: "shared/ghost", Asset: "ghost", Bundle: "shared"}},
		map[string]string{"shared": "base.pak"})
	if err != nil {
		t.Fatal(err)
	}
	cache := newCache(t, keys, directory)
	if err := cache.InitRegistry(registry); err != nil {
		t.Fatal(err)
	}

	_, _, err = bundlecache.LoadAsset[[]byte](context.Background(), cache, "shared/ghost")
	if !errors.Is(err, bundlecache.ErrLoadFailed) || !errors.Is(err, bundle.ErrAssetNotFound) {
		t.Errorf("LoadAsset(shared/ghost) = %v", err)
	}
	if got := cache.GetDebugInfo()["shared"]; got != 0 {
		t.Errorf("shared references = %d, want 0", got)
	}
}

func TestCacheWrongKey(t *testing.T) {
	directory := writePack(t, newKeys(t))
	cache := newCache(t, newKeys(t), directory)

	err := cache.Init(context.Background())
	if !errors.Is(err, bundlecache.ErrInitFailed) {
		t.Fatalf("Init with the wrong key = %v, want ErrInitFailed", err)
	}
	if !errors.Is(err, container.ErrDecrypt) {
		t.Errorf("Init error %v does not wrap ErrDecrypt", err)
	}
}
