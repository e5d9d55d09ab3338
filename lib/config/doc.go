// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the bundle
// cache and its command-line tool.
//
// Configuration is loaded from a single file specified by either the
// BUNDLECACHE_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There are no fallbacks and no automatic file
// search.
//
// The file may contain environment-specific sections (development,
// production) that override base values when [Config].Environment
// matches. Production defaults are stricter: containers must be keyed
// with a sealed key rather than a plaintext key file.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${BUNDLECACHE_ROOT}, and ${VAR:-default} patterns are
// expanded. No other environment variables override config values.
//
// This package depends on no other bundlecache packages.
package config
