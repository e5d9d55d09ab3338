// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"errors"
	"fmt"
	"slices"
)

// FormatVersion is the container layout version written into the magic.
const FormatVersion = 1

// magic is the 8-byte container file signature.
var magic = [8]byte{'B', 'N', 'D', 'L', 'P', 'A', 'K', FormatVersion}

// headerSize is magic + 4-byte directory length.
const headerSize = 12

// maxDirectorySize bounds the directory allocation for corrupt files.
const maxDirectorySize = 64 << 20

var (
	// ErrBlockNotFound is returned when a container has no block with
	// the requested name.
	ErrBlockNotFound = errors.New("block not found")

	// ErrNotContainer is returned for files without the container
	// signature.
	ErrNotContainer = errors.New("not a bundle container")

	// ErrDecrypt is returned when a block fails authentication: the
	// key is wrong or the block was tampered with or renamed.
	ErrDecrypt = errors.New("block authentication failed")

	// ErrCorrupt is returned when a decrypted block does not match its
	// directory entry.
	ErrCorrupt = errors.New("block is corrupt")
)

// Entry describes one block in a container directory.
type Entry struct {
	Name             string      `cbor:"name" json:"name"`
	Offset           int64       `cbor:"offset" json:"offset"`
	StoredSize       int64       `cbor:"stored_size" json:"stored_size"`
	Compression      Compression `cbor:"compression" json:"compression"`
	UncompressedSize int64       `cbor:"uncompressed_size" json:"uncompressed_size"`
	Hash             Hash        `cbor:"hash" json:"hash"`
}

// Directory is the parsed block index of a container.
type Directory struct {
	Entries []Entry `cbor:"entries" json:"entries"`

	// dataStart is the file offset of the block data section.
	dataStart int64
}

// Lookup returns the entry for name.
func (d *Directory) Lookup(name string) (Entry, bool) {
	index, found := slices.BinarySearchFunc(d.Entries, name, func(entry Entry, target string) int {
		switch {
		case entry.Name < target:
			return -1
		case entry.Name > target:
			return 1
		}
		return 0
	})
	if !found {
		return Entry{}, false
	}
	return d.Entries[index], true
}

// Names returns the block names in directory order.
func (d *Directory) Names() []string {
	names := make([]string, len(d.Entries))
	for i, entry := range d.Entries {
		names[i] = entry.Name
	}
	return names
}

// validate checks that entries are sorted, unique, and lie within a
// data section of dataSize bytes.
func (d *Directory) validate(dataSize int64) error {
	for i, entry := range d.Entries {
		if i > 0 && d.Entries[i-1].Name >= entry.Name {
			return fmt.Errorf("directory entries out of order at %q", entry.Name)
		}
		if entry.Offset < 0 || entry.StoredSize < 0 || entry.UncompressedSize < 0 {
			return fmt.Errorf("block %q has negative extent", entry.Name)
		}
		if entry.Offset+entry.StoredSize > dataSize {
			return fmt.Errorf("block %q extends past end of container (%d+%d > %d)",
				entry.Name, entry.Offset, entry.StoredSize, dataSize)
		}
	}
	return nil
}
