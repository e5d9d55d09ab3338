// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bureau-foundation/bundlecache/lib/codec"
)

// Writer accumulates blocks in memory and writes them as one
// container. The directory precedes the data, so nothing is written
// until WriteTo.
//
//	writer := container.NewWriter(keys)
//	writer.Add("manifest", manifestText)
//	writer.AddWith("textures", pixels, container.CompressionNone)
//	err := writer.WriteFile(path)
type Writer struct {
	keys   *KeySet
	blocks map[string]pendingBlock
}

type pendingBlock struct {
	sealed []byte
	entry  Entry
}

// NewWriter creates a writer that seals blocks with keys. The key set
// is borrowed.
func NewWriter(keys *KeySet) *Writer {
	return &Writer{keys: keys, blocks: make(map[string]pendingBlock)}
}

// Add compresses (choosing the algorithm by probe) and seals data as
// block name.
func (w *Writer) Add(name string, data []byte) error {
	return w.add(name, data, selectCompression(data))
}

// AddWith is Add with an explicit compression algorithm. Data that
// does not shrink is stored raw regardless.
func (w *Writer) AddWith(name string, data []byte, compression Compression) error {
	return w.add(name, data, compression)
}

func (w *Writer) add(name string, data []byte, compression Compression) error {
	if name == "" {
		return errors.New("block name is empty")
	}
	if strings.ContainsAny(name, "\x00") {
		return fmt.Errorf("block name %q contains NUL", name)
	}
	if _, exists := w.blocks[name]; exists {
		return fmt.Errorf("duplicate block %q", name)
	}

	compressed, err := compressBlock(data, compression)
	if errors.Is(err, errIncompressible) {
		compressed, compression = data, CompressionNone
	} else if err != nil {
		return fmt.Errorf("compressing block %q: %w", name, err)
	}

	sealed, err := w.keys.seal(name, compressed)
	if err != nil {
		return fmt.Errorf("sealing block %q: %w", name, err)
	}

	w.blocks[name] = pendingBlock{
		sealed: sealed,
		entry: Entry{
			Name:             name,
			StoredSize:       int64(len(sealed)),
			Compression:      compression,
			UncompressedSize: int64(len(data)),
			Hash:             ContentHash(data),
		},
	}
	return nil
}

// Len returns the number of blocks added.
func (w *Writer) Len() int { return len(w.blocks) }

// WriteTo writes the container. Blocks are laid out in name order.
func (w *Writer) WriteTo(destination io.Writer) (int64, error) {
	names := make([]string, 0, len(w.blocks))
	for name := range w.blocks {
		names = append(names, name)
	}
	slices.Sort(names)

	directory := Directory{Entries: make([]Entry, 0, len(names))}
	var offset int64
	for _, name := range names {
		entry := w.blocks[name].entry
		entry.Offset = offset
		offset += entry.StoredSize
		directory.Entries = append(directory.Entries, entry)
	}

	encoded, err := codec.Marshal(directory)
	if err != nil {
		return 0, fmt.Errorf("encoding directory: %w", err)
	}
	if len(encoded) > maxDirectorySize {
		return 0, fmt.Errorf("directory is %d bytes, maximum is %d", len(encoded), maxDirectorySize)
	}

	var header [headerSize]byte
	copy(header[:], magic[:])
	binary.LittleEndian.PutUint32(header[8:], uint32(len(encoded)))

	counter := &countingWriter{writer: destination}
	if _, err := counter.Write(header[:]); err != nil {
		return counter.count, fmt.Errorf("writing header: %w", err)
	}
	if _, err := counter.Write(encoded); err != nil {
		return counter.count, fmt.Errorf("writing directory: %w", err)
	}
	for _, name := range names {
		if _, err := counter.Write(w.blocks[name].sealed); err != nil {
			return counter.count, fmt.Errorf("writing block %q: %w", name, err)
		}
	}
	return counter.count, nil
}

// Bytes returns the encoded container.
func (w *Writer) Bytes() ([]byte, error) {
	var buffer bytes.Buffer
	if _, err := w.WriteTo(&buffer); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// WriteFile writes the container to path atomically (temp file and
// rename in the same directory).
func (w *Writer) WriteFile(path string) error {
	file, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary container: %w", err)
	}
	temporaryPath := file.Name()
	defer os.Remove(temporaryPath)

	if _, err := w.WriteTo(file); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", temporaryPath, err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		return fmt.Errorf("renaming container into place: %w", err)
	}
	return nil
}

type countingWriter struct {
	writer io.Writer
	count  int64
}

func (c *countingWriter) Write(data []byte) (int, error) {
	written, err := c.writer.Write(data)
	c.count += int64(written)
	return written, err
}
