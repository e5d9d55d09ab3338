// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/bundlecache/lib/codec"
)

// Reader reads blocks out of container files with one key set. Safe
// for concurrent use by many workers.
type Reader struct {
	keys   *KeySet
	logger *slog.Logger

	mu          sync.Mutex
	directories map[string]cachedDirectory
}

type cachedDirectory struct {
	size      int64
	modified  time.Time
	directory *Directory
}

// NewReader creates a reader. The key set is borrowed and must outlive
// the reader. A nil logger discards output.
func NewReader(keys *KeySet, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reader{
		keys:        keys,
		logger:      logger.With("component", "container"),
		directories: make(map[string]cachedDirectory),
	}
}

// ReadBlock returns the decrypted, decompressed, integrity-checked
// contents of blockName in the container at containerPath.
func (r *Reader) ReadBlock(ctx context.Context, containerPath, blockName string) ([]byte, error) {
	file, err := os.Open(containerPath)
	if err != nil {
		return nil, fmt.Errorf("opening container: %w", err)
	}
	defer file.Close()

	directory, err := r.directory(file, containerPath)
	if err != nil {
		return nil, err
	}
	entry, ok := directory.Lookup(blockName)
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrBlockNotFound, blockName, containerPath)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sealed := make([]byte, entry.StoredSize)
	if _, err := file.ReadAt(sealed, directory.dataStart+entry.Offset); err != nil {
		return nil, fmt.Errorf("reading block %q: %w", blockName, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	compressed, err := r.keys.open(blockName, sealed)
	if err != nil {
		return nil, fmt.Errorf("opening block %q in %s: %w", blockName, containerPath, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	plaintext, err := decompressBlock(compressed, entry.Compression, int(entry.UncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrCorrupt, blockName, err)
	}
	if ContentHash(plaintext) != entry.Hash {
		return nil, fmt.Errorf("%w: %q: content hash mismatch", ErrCorrupt, blockName)
	}
	return plaintext, nil
}

// Directory returns the parsed directory of the container at path.
func (r *Reader) Directory(path string) (*Directory, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening container: %w", err)
	}
	defer file.Close()
	return r.directory(file, path)
}

// Forget drops the cached directory for path.
func (r *Reader) Forget(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.directories, path)
}

func (r *Reader) directory(file *os.File, path string) (*Directory, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat container: %w", err)
	}

	r.mu.Lock()
	cached, ok := r.directories[path]
	r.mu.Unlock()
	if ok && cached.size == info.Size() && cached.modified.Equal(info.ModTime()) {
		return cached.directory, nil
	}

	directory, err := ReadDirectory(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	r.mu.Lock()
	r.directories[path] = cachedDirectory{size: info.Size(), modified: info.ModTime(), directory: directory}
	r.mu.Unlock()
	r.logger.Debug("container directory loaded", "path", path, "blocks", len(directory.Entries))
	return directory, nil
}

// ReadDirectory parses the header and directory of a container of
// fileSize bytes.
func ReadDirectory(source io.ReaderAt, fileSize int64) (*Directory, error) {
	var header [headerSize]byte
	if _, err := source.ReadAt(header[:], 0); err != nil {
		if err == io.EOF {
			return nil, ErrNotContainer
		}
		return nil, fmt.Errorf("reading container header: %w", err)
	}
	if !bytes.Equal(header[:7], magic[:7]) {
		return nil, ErrNotContainer
	}
	if header[7] != FormatVersion {
		return nil, fmt.Errorf("container format version %d is not supported (expected %d)", header[7], FormatVersion)
	}

	directoryLength := int64(binary.LittleEndian.Uint32(header[8:]))
	if directoryLength > maxDirectorySize || headerSize+directoryLength > fileSize {
		return nil, fmt.Errorf("directory length %d exceeds container size %d", directoryLength, fileSize)
	}

	encoded := make([]byte, directoryLength)
	if _, err := source.ReadAt(encoded, headerSize); err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}
	directory := &Directory{}
	if err := codec.Unmarshal(encoded, directory); err != nil {
		return nil, fmt.Errorf("decoding directory: %w", err)
	}
	directory.dataStart = headerSize + directoryLength
	if err := directory.validate(fileSize - directory.dataStart); err != nil {
		return nil, err
	}
	return directory, nil
}
