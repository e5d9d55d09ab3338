// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/bureau-foundation/bundlecache/lib/secret"
)

// KeySize is the size in bytes of the container master key and of
// every derived block key.
const KeySize = 32

// blockFormatVersion is the first byte of every sealed block and part
// of its additional data.
const blockFormatVersion byte = 0x01

// sealedOverhead is version + nonce + Poly1305 tag.
const sealedOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

var (
	hkdfInfoBlock    = []byte("bundlecache.container.block.v1")
	nameHashDomain   = []byte("bundlecache.container.name.v1")
	contentHashLabel = "bundlecache.container.content.v1"
)

// Hash is a 32-byte BLAKE3 digest.
type Hash [32]byte

// ContentHash returns the plaintext integrity hash stored in the
// directory for data.
func ContentHash(data []byte) Hash {
	hasher := blake3.NewDeriveKey(contentHashLabel)
	hasher.Write(data)
	var result Hash
	copy(result[:], hasher.Sum(nil))
	return result
}

// KeySet holds the container master key in guarded memory and derives
// per-block keys from it. Safe for concurrent use: derivation only
// reads the master key.
type KeySet struct {
	masterKey *secret.Buffer
}

// GenerateKey returns a fresh random master key in guarded memory.
func GenerateKey() (*secret.Buffer, error) {
	key, err := secret.New(KeySize)
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(rand.Reader, key.Bytes()); err != nil {
		key.Close()
		return nil, fmt.Errorf("generating container key: %w", err)
	}
	return key, nil
}

// NewKeySet takes ownership of masterKey, which must be KeySize bytes.
// It is closed by Close.
func NewKeySet(masterKey *secret.Buffer) (*KeySet, error) {
	if masterKey.Len() != KeySize {
		return nil, fmt.Errorf("container key must be %d bytes, got %d", KeySize, masterKey.Len())
	}
	return &KeySet{masterKey: masterKey}, nil
}

// Close zeroes the master key. Idempotent.
func (k *KeySet) Close() error {
	return k.masterKey.Close()
}

// nameHash is the BLAKE3 hash of a block name keyed by the master key.
// It is opaque without the key, so it can bind ciphertext to a name
// without revealing anything about other containers.
func (k *KeySet) nameHash(name string) Hash {
	hasher, err := blake3.NewKeyed(k.masterKey.Bytes())
	if err != nil {
		panic("container: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(nameHashDomain)
	hasher.Write([]byte(name))
	var result Hash
	copy(result[:], hasher.Sum(nil))
	return result
}

func (k *KeySet) blockKey(nameHash Hash) (*secret.Buffer, error) {
	info := make([]byte, 0, len(hkdfInfoBlock)+len(nameHash))
	info = append(info, hkdfInfoBlock...)
	info = append(info, nameHash[:]...)

	reader := hkdf.New(sha256.New, k.masterKey.Bytes(), nil, info)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	return secret.NewFromBytes(derived)
}

// seal encrypts one block:
//
//	[Version: 1 byte] [Nonce: 24 bytes] [Ciphertext+Tag]
func (k *KeySet) seal(name string, plaintext []byte) ([]byte, error) {
	nameHash := k.nameHash(name)
	key, err := k.blockKey(nameHash)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	output := make([]byte, 1+chacha20poly1305.NonceSizeX, sealedOverhead+len(plaintext))
	output[0] = blockFormatVersion
	if _, err := io.ReadFull(rand.Reader, output[1:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	nonce := output[1 : 1+chacha20poly1305.NonceSizeX]
	return aead.Seal(output, nonce, plaintext, buildAAD(nameHash)), nil
}

func (k *KeySet) open(name string, sealed []byte) ([]byte, error) {
	if len(sealed) < sealedOverhead {
		return nil, fmt.Errorf("sealed block is %d bytes, minimum is %d", len(sealed), sealedOverhead)
	}
	if sealed[0] != blockFormatVersion {
		return nil, fmt.Errorf("sealed block version %d is not supported (expected %d)", sealed[0], blockFormatVersion)
	}

	nameHash := k.nameHash(name)
	key, err := k.blockKey(nameHash)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	nonce := sealed[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, sealed[1+chacha20poly1305.NonceSizeX:], buildAAD(nameHash))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

func buildAAD(nameHash Hash) []byte {
	aad := make([]byte, 1+len(nameHash))
	aad[0] = blockFormatVersion
	copy(aad[1:], nameHash[:])
	return aad
}
