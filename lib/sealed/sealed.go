// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed distributes container master keys encrypted with age.
//
// A deployment seals the 32-byte pack key to one or more X25519
// recipients (machines, build hosts). The sealed form is base64 text
// that can sit next to the containers on disk; only a holder of a
// matching identity can recover the key. Identities and recovered keys
// are returned in secret.Buffer values.
package sealed

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"

	"github.com/bureau-foundation/bundlecache/lib/secret"
)

// Identity is an age X25519 keypair. Close releases the private half.
type Identity struct {
	// PrivateKey is the AGE-SECRET-KEY-1... string in guarded memory.
	PrivateKey *secret.Buffer

	// Recipient is the matching age1... public key.
	Recipient string
}

// Close releases the private key memory. Idempotent.
func (identity *Identity) Close() error {
	if identity.PrivateKey != nil {
		return identity.PrivateKey.Close()
	}
	return nil
}

// GenerateIdentity creates a new X25519 identity.
func GenerateIdentity() (*Identity, error) {
	generated, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age identity: %w", err)
	}

	privateKey, err := secret.NewFromBytes([]byte(generated.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}
	return &Identity{
		PrivateKey: privateKey,
		Recipient:  generated.Recipient().String(),
	}, nil
}

// SealKey encrypts key to every recipient and returns base64 text.
// The key is borrowed and not closed.
func SealKey(key *secret.Buffer, recipientKeys []string) (string, error) {
	if len(recipientKeys) == 0 {
		return "", fmt.Errorf("at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, recipientKey := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(strings.TrimSpace(recipientKey))
		if err != nil {
			return "", fmt.Errorf("parsing recipient %q: %w", recipientKey, err)
		}
		recipients = append(recipients, recipient)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipients...)
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(key.Bytes()); err != nil {
		return "", fmt.Errorf("writing key to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalizing age encryption: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext.Bytes()), nil
}

// UnsealKey decrypts a sealed key with privateKey and checks that the
// result is exactly size bytes. privateKey is borrowed and not closed.
func UnsealKey(sealedKey string, privateKey *secret.Buffer, size int) (*secret.Buffer, error) {
	identity, err := age.ParseX25519Identity(strings.TrimSpace(privateKey.String()))
	if err != nil {
		return nil, fmt.Errorf("parsing identity: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sealedKey))
	if err != nil {
		return nil, fmt.Errorf("decoding base64 sealed key: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting sealed key: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("reading sealed key: %w", err)
	}
	if len(plaintext) != size {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("sealed key is %d bytes, want %d", len(plaintext), size)
	}
	return secret.NewFromBytes(plaintext)
}

// ReadSealedKey unseals the key stored at sealedPath with the identity
// stored at identityPath.
func ReadSealedKey(sealedPath, identityPath string, size int) (*secret.Buffer, error) {
	sealedKey, err := os.ReadFile(sealedPath)
	if err != nil {
		return nil, fmt.Errorf("reading sealed key: %w", err)
	}

	identityBytes, err := os.ReadFile(identityPath)
	if err != nil {
		return nil, fmt.Errorf("reading identity: %w", err)
	}
	privateKey, err := secret.NewFromBytes(bytes.TrimSpace(identityBytes))
	secret.Zero(identityBytes)
	if err != nil {
		return nil, fmt.Errorf("protecting identity: %w", err)
	}
	defer privateKey.Close()

	return UnsealKey(string(sealedKey), privateKey, size)
}
