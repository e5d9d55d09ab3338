// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer is a fixed-size region of locked, non-dumpable memory outside
// the Go heap. A Buffer must not be copied; reads after Close panic.
type Buffer struct {
	mu     sync.Mutex
	region []byte
	size   int
}

// New allocates a zeroed Buffer of size bytes. The caller must Close
// it.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}
	region, err := lockRegion(size)
	if err != nil {
		return nil, err
	}
	return &Buffer{region: region, size: size}, nil
}

// NewFromBytes moves source into a new Buffer. source is zeroed
// whether or not allocation succeeds.
func NewFromBytes(source []byte) (*Buffer, error) {
	defer Zero(source)
	if len(source) == 0 {
		return nil, errors.New("secret: cannot create buffer from empty source")
	}
	buffer, err := New(len(source))
	if err != nil {
		return nil, err
	}
	copy(buffer.region, source)
	return buffer, nil
}

// lockRegion maps an anonymous region, pins it in RAM, and keeps it
// out of core dumps.
func lockRegion(size int) ([]byte, error) {
	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap: %w", err)
	}
	if err := unix.Mlock(region); err != nil {
		unix.Munmap(region)
		return nil, fmt.Errorf("secret: mlock: %w", err)
	}
	if err := unix.Madvise(region, unix.MADV_DONTDUMP); err != nil {
		unlockRegion(region)
		return nil, fmt.Errorf("secret: madvise(MADV_DONTDUMP): %w", err)
	}
	return region, nil
}

// unlockRegion zeroes, unpins, and unmaps region.
func unlockRegion(region []byte) error {
	Zero(region)
	return errors.Join(
		wrapErr("munlock", unix.Munlock(region)),
		wrapErr("munmap", unix.Munmap(region)),
	)
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("secret: %s: %w", op, err)
}

// view returns the live region, panicking once closed.
func (b *Buffer) view() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.region == nil {
		panic("secret: read from closed buffer")
	}
	return b.region
}

// Bytes returns the protected bytes themselves. The slice must not be
// retained past Close.
func (b *Buffer) Bytes() []byte { return b.view() }

// String returns a heap copy, for APIs that only take strings (age
// identities).
func (b *Buffer) String() string { return string(b.view()) }

// Len returns the size the buffer was created with.
func (b *Buffer) Len() int { return b.size }

// Close wipes and releases the region. Closing twice is a no-op.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.region == nil {
		return nil
	}
	region := b.region
	b.region = nil
	return unlockRegion(region)
}

// Zero overwrites data with zeros.
func Zero(data []byte) { clear(data) }
