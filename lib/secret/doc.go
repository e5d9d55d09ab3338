// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds key material outside the Go heap.
//
// [Buffer] allocates memory via mmap(MAP_ANONYMOUS), locks it into RAM
// (mlock) and excludes it from core dumps (MADV_DONTDUMP). Close zeroes
// and unmaps it. The bundle cache keeps its container master key in a
// Buffer for the life of the process; per-block keys derived from it
// are short-lived Buffers closed right after the block is opened.
//
// Key files are read with [ReadHexKey], which decodes a hex-encoded key
// of a fixed size into a Buffer and zeroes every intermediate copy.
//
// Depends on golang.org/x/sys/unix.
package secret
