// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bundle is the concrete bundle format served by the cache.
//
// A bundle block is a CBOR map carrying the bundle's name and its
// assets, each stored as opaque bytes:
//
//	{"name": "characters", "assets": {"hero": h'...', "villain": h'...'}}
//
// [Encode] produces that payload for the pack tool. [Decoder]
// implements bundlecache.Decoder and yields a [*Bundle], whose
// LoadAsset hands out private copies of asset bytes. Structured assets
// are themselves CBOR, so the cache's typed loading decodes them into
// the caller's type.
package bundle
