// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework of the bundlecache binary: a
// tree of [Command] values with pflag-based flag sets, structured help
// output, typo suggestions for unknown commands and flags, and the
// command logger.
package cli
