// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the algorithm applied to a block before
// encryption. Values are stored in container directories.
type Compression uint8

const (
	// CompressionNone stores the block as is. Used for content that
	// is already compressed (textures, audio).
	CompressionNone Compression = 0

	// CompressionLZ4 is LZ4 block compression: modest ratio, very
	// fast decode.
	CompressionLZ4 Compression = 1

	// CompressionZstd is zstd at the default level, for text-like
	// payloads where ratio matters more than decode speed.
	CompressionZstd Compression = 2
)

// String returns the name of a compression algorithm.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses the names accepted by String, plus "auto"
// which returns ok=false to request probing.
func ParseCompression(name string) (compression Compression, ok bool, err error) {
	switch name {
	case "", "auto":
		return 0, false, nil
	case "none":
		return CompressionNone, true, nil
	case "lz4":
		return CompressionLZ4, true, nil
	case "zstd":
		return CompressionZstd, true, nil
	default:
		return 0, false, fmt.Errorf("unknown compression %q", name)
	}
}

// errIncompressible means compression did not shrink the data; the
// writer stores the block raw instead.
var errIncompressible = errors.New("data is incompressible")

// zstd encoders and decoders are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("container: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("container: zstd decoder initialization failed: " + err.Error())
	}
}

// selectCompression probes data with zstd: a ratio of at least 1.5
// picks zstd, at least 1.1 picks LZ4, anything lower stores raw.
func selectCompression(data []byte) Compression {
	if len(data) == 0 {
		return CompressionNone
	}
	compressed := zstdEncoder.EncodeAll(data, nil)
	ratio := float64(len(data)) / float64(len(compressed))
	switch {
	case ratio >= 1.5:
		return CompressionZstd
	case ratio >= 1.1:
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

func compressBlock(data []byte, compression Compression) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return destination[:written], nil
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil
	default:
		return nil, fmt.Errorf("unsupported compression %s", compression)
	}
}

func decompressBlock(compressed []byte, compression Compression, uncompressedSize int) ([]byte, error) {
	switch compression {
	case CompressionNone:
		if len(compressed) != uncompressedSize {
			return nil, fmt.Errorf("raw block is %d bytes, directory says %d", len(compressed), uncompressedSize)
		}
		return compressed, nil
	case CompressionLZ4:
		destination := make([]byte, uncompressedSize)
		read, err := lz4.UncompressBlock(compressed, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != uncompressedSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
		}
		return destination, nil
	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != uncompressedSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), uncompressedSize)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported compression %s", compression)
	}
}
