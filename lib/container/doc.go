// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package container reads and writes packed container files: the
// encrypted, compressed archives that hold bundle bytes and the
// manifest.
//
// A container file is laid out as:
//
//	[Magic: 8 bytes "BNDLPAK" + version]
//	[Directory length: 4 bytes, little-endian]
//	[Directory: CBOR]
//	[Block data]
//
// The directory lists every block by name with its offset into the
// block data, stored size, compression, uncompressed size, and the
// BLAKE3 hash of its plaintext. Each block is compressed (LZ4 or zstd,
// chosen by a ratio probe, or stored raw) and then sealed with
// XChaCha20-Poly1305 under a key derived by HKDF-SHA256 from the
// container master key and the block's name hash. The name hash is
// also the AEAD additional data, so a block moved under another name
// fails authentication.
//
// [Reader] caches parsed directories per path and re-parses when the
// file's size or modification time changes. ReadBlock checks its
// context between the open, read, decrypt, and decompress steps, so a
// cancelled load stops at the next step boundary.
//
// [Writer] builds containers for the pack tool and for tests.
package container
