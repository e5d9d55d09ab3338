// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports what bundlecache binary is running.
//
// Release builds inject [Version], [GitCommit], [GitDirty] ("true" or
// "false"), and [BuildTime] with -ldflags -X. Anything left unset falls
// back to the VCS stamp the go command embeds, then to "unknown".
//
// [Info] is the --version line; [Full] is the "bundlecache version"
// report and includes the container format version, which decides
// whether a binary can open a given pack.
package version
