// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
)

// ReadHexKey reads a hex-encoded key of exactly size bytes from path.
// Surrounding whitespace is ignored. The file contents and the decoded
// bytes are zeroed before returning.
func ReadHexKey(path string, size int) (*Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defer Zero(data)

	return DecodeHexKey(bytes.TrimSpace(data), size)
}

// DecodeHexKey decodes a hex-encoded key of exactly size bytes into a
// Buffer. encoded is not modified.
func DecodeHexKey(encoded []byte, size int) (*Buffer, error) {
	if len(encoded) != size*2 {
		return nil, fmt.Errorf("secret: key must be %d hex characters, got %d", size*2, len(encoded))
	}

	decoded := make([]byte, size)
	if _, err := hex.Decode(decoded, encoded); err != nil {
		Zero(decoded)
		return nil, fmt.Errorf("secret: decoding hex key: %w", err)
	}
	return NewFromBytes(decoded)
}
