// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package packspec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/bundlecache/lib/bundle"
	"github.com/bureau-foundation/bundlecache/lib/codec"
	"github.com/bureau-foundation/bundlecache/lib/container"
	"github.com/bureau-foundation/bundlecache/lib/manifest"
)

// BuildOptions configures Build.
type BuildOptions struct {
	// SourceDirectory resolves relative asset file names. Usually the
	// directory holding the spec file.
	SourceDirectory string

	// OutputDirectory receives the container files. Created if missing.
	OutputDirectory string

	// Keys encrypts every block. Required.
	Keys *container.KeySet

	// Logger receives one line per container written. Default: discard.
	Logger *slog.Logger
}

// BuildResult describes a finished build.
type BuildResult struct {
	// Registry is the manifest stored in the manifest container.
	Registry *manifest.Registry

	// Containers maps each written container path to its block count.
	Containers map[string]int
}

// Build validates spec, packs every bundle into its container, stores
// the manifest block, and writes the containers atomically.
func Build(spec *Spec, options BuildOptions) (*BuildResult, error) {
	if options.Keys == nil {
		return nil, errors.New("packspec: BuildOptions.Keys is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	logger := options.Logger.With("component", "packspec")

	if issues := Validate(spec); len(issues) > 0 {
		return nil, fmt.Errorf("invalid pack spec:\n  %s", strings.Join(issues, "\n  "))
	}
	registry, err := Registry(spec)
	if err != nil {
		return nil, err
	}

	writers := make(map[string]*container.Writer)
	writerFor := func(name string) *container.Writer {
		writer, ok := writers[name]
		if !ok {
			writer = container.NewWriter(options.Keys)
			writers[name] = writer
		}
		return writer
	}

	if err := writerFor(spec.ManifestContainer).AddWith(spec.ManifestBlock, registry.Bytes(), container.CompressionZstd); err != nil {
		return nil, fmt.Errorf("adding manifest: %w", err)
	}

	for _, bundleName := range sortedNames(spec.Bundles) {
		bundleSpec := spec.Bundles[bundleName]
		assets := make(map[string][]byte, len(bundleSpec.Assets))
		for assetName, asset := range bundleSpec.Assets {
			data, err := assetContent(asset, options.SourceDirectory)
			if err != nil {
				return nil, fmt.Errorf("bundle %q asset %q: %w", bundleName, assetName, err)
			}
			assets[assetName] = data
		}
		payload, err := bundle.Encode(bundleName, assets)
		if err != nil {
			return nil, err
		}

		writer := writerFor(bundleSpec.Container)
		compression, explicit, _ := container.ParseCompression(bundleSpec.Compression)
		if explicit {
			err = writer.AddWith(bundleName, payload, compression)
		} else {
			err = writer.Add(bundleName, payload)
		}
		if err != nil {
			return nil, fmt.Errorf("adding bundle %q: %w", bundleName, err)
		}
	}

	if err := os.MkdirAll(options.OutputDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	result := &BuildResult{Registry: registry, Containers: make(map[string]int, len(writers))}
	for _, name := range sortedNames(writers) {
		writer := writers[name]
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(options.OutputDirectory, name)
		}
		if err := writer.WriteFile(path); err != nil {
			return nil, fmt.Errorf("writing %s: %w", path, err)
		}
		result.Containers[path] = writer.Len()
		logger.Info("container written", "path", path, "blocks", writer.Len())
	}
	return result, nil
}

// Registry builds the manifest described by spec. Dependency cycles
// are reported here.
func Registry(spec *Spec) (*manifest.Registry, error) {
	dependencies := make(map[string][]string)
	containers := make(map[string]string, len(spec.Bundles))
	var addresses []manifest.Address
	for _, bundleName := range sortedNames(spec.Bundles) {
		bundleSpec := spec.Bundles[bundleName]
		if len(bundleSpec.Dependencies) > 0 {
			dependencies[bundleName] = bundleSpec.Dependencies
		}
		containers[bundleName] = bundleSpec.Container
		for _, assetName := range sortedNames(bundleSpec.Assets) {
			addresses = append(addresses, manifest.Address{
				Path:   LogicalPath(bundleName, assetName, bundleSpec.Assets[assetName]),
				Asset:  assetName,
				Bundle: bundleName,
			})
		}
	}
	registry, err := manifest.New(dependencies, addresses, containers)
	if err != nil {
		return nil, fmt.Errorf("building manifest: %w", err)
	}
	return registry, nil
}

func assetContent(asset AssetSpec, sourceDirectory string) ([]byte, error) {
	switch {
	case asset.File != "":
		path := asset.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(sourceDirectory, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading asset file: %w", err)
		}
		return data, nil
	case asset.Text != "":
		return []byte(asset.Text), nil
	default:
		return jsonToCBOR(asset.Value)
	}
}

// jsonToCBOR re-encodes a JSON value as CBOR. Integral numbers become
// CBOR integers so they decode into Go integer fields.
func jsonToCBOR(raw json.RawMessage) ([]byte, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("parsing value: %w", err)
	}
	return codec.Marshal(normalizeNumbers(value))
}

func normalizeNumbers(value any) any {
	switch typed := value.(type) {
	case json.Number:
		if integer, err := typed.Int64(); err == nil {
			return integer
		}
		float, _ := typed.Float64()
		return float
	case map[string]any:
		for key, element := range typed {
			typed[key] = normalizeNumbers(element)
		}
		return typed
	case []any:
		for index, element := range typed {
			typed[index] = normalizeNumbers(element)
		}
		return typed
	default:
		return value
	}
}
