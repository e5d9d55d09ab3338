// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package packspec

import (
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/bureau-foundation/bundlecache/lib/container"
)

// Validate checks a Spec for structural issues. Returns a list of
// human-readable issue descriptions. An empty list means the spec can
// be built.
//
// Structural checks include:
//   - At least one bundle is required
//   - Bundle and asset names must be non-empty and free of the
//     manifest's separator characters
//   - Every bundle names a container
//   - Compression names are known
//   - Dependencies name bundles in the spec, never the bundle itself
//   - Each asset sets exactly one of file, text, and value
//   - Logical paths are unique across the pack
//   - No bundle is stored under the manifest's block name in the
//     manifest container
//
// Dependency cycles are reported by Build, which has the full graph.
func Validate(spec *Spec) []string {
	var issues []string

	if len(spec.Bundles) == 0 {
		issues = append(issues, "pack has no bundles (at least one bundle is required)")
	}
	if strings.ContainsAny(spec.ManifestContainer, "|\n") {
		issues = append(issues, fmt.Sprintf("manifest_container %q contains a separator character", spec.ManifestContainer))
	}

	paths := make(map[string]string)
	for _, bundleName := range sortedNames(spec.Bundles) {
		bundleSpec := spec.Bundles[bundleName]
		prefix := fmt.Sprintf("bundles[%q]", bundleName)

		if bundleName == "" || strings.ContainsAny(bundleName, ",|#\n") {
			issues = append(issues, fmt.Sprintf("%s: invalid bundle name", prefix))
		}
		if bundleName == spec.ManifestBlock && filepath.Clean(bundleSpec.Container) == filepath.Clean(spec.ManifestContainer) {
			issues = append(issues, fmt.Sprintf("%s: collides with the manifest block in %s", prefix, spec.ManifestContainer))
		}

		switch {
		case bundleSpec.Container == "":
			issues = append(issues, fmt.Sprintf("%s: container is required", prefix))
		case strings.ContainsAny(bundleSpec.Container, "|\n"):
			issues = append(issues, fmt.Sprintf("%s: container %q contains a separator character", prefix, bundleSpec.Container))
		}

		if _, _, err := container.ParseCompression(bundleSpec.Compression); err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", prefix, err))
		}

		for index, dependency := range bundleSpec.Dependencies {
			switch {
			case dependency == bundleName:
				issues = append(issues, fmt.Sprintf("%s: dependencies[%d] names the bundle itself", prefix, index))
			case slices.Index(bundleSpec.Dependencies, dependency) != index:
				issues = append(issues, fmt.Sprintf("%s: dependencies[%d] %q is listed twice", prefix, index, dependency))
			default:
				if _, ok := spec.Bundles[dependency]; !ok {
					issues = append(issues, fmt.Sprintf("%s: dependencies[%d] %q is not a bundle in this pack", prefix, index, dependency))
				}
			}
		}

		for _, assetName := range sortedNames(bundleSpec.Assets) {
			asset := bundleSpec.Assets[assetName]
			assetPrefix := fmt.Sprintf("%s.assets[%q]", prefix, assetName)

			if assetName == "" || strings.ContainsAny(assetName, "|\n") {
				issues = append(issues, fmt.Sprintf("%s: invalid asset name", assetPrefix))
			}

			sources := 0
			if asset.File != "" {
				sources++
			}
			if asset.Text != "" {
				sources++
			}
			if len(asset.Value) > 0 {
				sources++
			}
			if sources != 1 {
				issues = append(issues, fmt.Sprintf("%s: exactly one of file, text, or value is required (got %d)", assetPrefix, sources))
			}

			logicalPath := LogicalPath(bundleName, assetName, asset)
			if strings.ContainsAny(logicalPath, "|\n") {
				issues = append(issues, fmt.Sprintf("%s: path %q contains a separator character", assetPrefix, logicalPath))
			}
			if first, exists := paths[logicalPath]; exists {
				issues = append(issues, fmt.Sprintf("%s: path %q already used by %s", assetPrefix, logicalPath, first))
			} else {
				paths[logicalPath] = assetPrefix
			}
		}
	}

	return issues
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
