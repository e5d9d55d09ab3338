// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package packspec reads pack build specs and turns them into
// encrypted containers plus the manifest that indexes them.
//
// A build spec is authored as JSONC (JSON extended with comments and
// trailing commas):
//
//	{
//	    // Containers default to base.pak / manifest.
//	    "bundles": {
//	        "characters": {
//	            "container": "characters.pak",
//	            "dependencies": ["shared"],
//	            "assets": {
//	                "hero": {"path": "ui/hero", "file": "art/hero.bin"},
//	                "hero-stats": {"value": {"health": 100}},
//	            },
//	        },
//	        "shared": {
//	            "container": "base.pak",
//	            "assets": {"palette": {"text": "red green blue"}},
//	        },
//	    },
//	}
//
// The typical flow:
//
//  1. ReadFile or Parse: JSONC bytes -> Spec
//  2. Validate: structural checks, returned as a list of issues
//  3. Build: Spec -> container files in an output directory
package packspec

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// Spec describes one pack: every bundle, the container it goes into,
// and the assets it holds.
type Spec struct {
	// ManifestContainer is the container file that receives the
	// manifest block. Default: base.pak.
	ManifestContainer string `json:"manifest_container,omitempty"`

	// ManifestBlock is the manifest's block name. Default: manifest.
	ManifestBlock string `json:"manifest_block,omitempty"`

	Bundles map[string]BundleSpec `json:"bundles"`
}

// BundleSpec describes one bundle.
type BundleSpec struct {
	// Container is the container file the bundle is packed into.
	Container string `json:"container"`

	// Dependencies are bundles that must be ready before this one.
	Dependencies []string `json:"dependencies,omitempty"`

	// Compression is "auto" (or empty), "none", "lz4", or "zstd".
	Compression string `json:"compression,omitempty"`

	Assets map[string]AssetSpec `json:"assets"`
}

// AssetSpec describes one asset. Exactly one of File, Text, and Value
// supplies the content.
type AssetSpec struct {
	// Path is the logical path the asset is loaded by.
	// Default: "<bundle>/<asset>".
	Path string `json:"path,omitempty"`

	// File is read relative to the spec's directory.
	File string `json:"file,omitempty"`

	// Text is stored as its UTF-8 bytes.
	Text string `json:"text,omitempty"`

	// Value is any JSON value, stored as CBOR so typed loads decode it.
	Value json.RawMessage `json:"value,omitempty"`
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result into a Spec and fills in defaults.
func Parse(data []byte) (*Spec, error) {
	stripped := jsonc.ToJSON(data)

	var spec Spec
	if err := json.Unmarshal(stripped, &spec); err != nil {
		return nil, fmt.Errorf("parsing pack spec: %w", err)
	}
	if spec.ManifestContainer == "" {
		spec.ManifestContainer = "base.pak"
	}
	if spec.ManifestBlock == "" {
		spec.ManifestBlock = "manifest"
	}
	return &spec, nil
}

// ReadFile reads and parses a JSONC pack spec from disk.
func ReadFile(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	spec, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return spec, nil
}

// LogicalPath returns the path an asset is loaded by.
func LogicalPath(bundleName, assetName string, asset AssetSpec) string {
	if asset.Path != "" {
		return asset.Path
	}
	return bundleName + "/" + assetName
}
