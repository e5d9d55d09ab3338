// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the single CBOR configuration for on-disk structures:
// pack directories, bundle payloads, and typed asset bodies.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2) so the same
// directory or bundle always produces the same bytes, which keeps pack
// files reproducible and their hashes stable across builds.
//
//	data, err := codec.Marshal(directory)
//	err = codec.Unmarshal(data, &directory)
//
// Types that only ever live inside packs use `cbor` struct tags.
package codec
