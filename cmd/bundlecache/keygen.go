// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/bundlecache/cmd/bundlecache/cli"
	"github.com/bureau-foundation/bundlecache/lib/container"
	"github.com/bureau-foundation/bundlecache/lib/sealed"
	"github.com/bureau-foundation/bundlecache/lib/secret"
)

const (
	plaintextKeyFile = "container.key"
	sealedKeyFile    = "container.key.age"
	identityFile     = "identity.txt"
)

func keygenCommand(stdout io.Writer) *cli.Command {
	var (
		outputDirectory string
		recipients      []string
		newIdentity     bool
		plaintext       bool
	)
	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate a container key",
		Description: `Generate a random 32-byte container master key.

Without recipients the key is written as hex to container.key. With
--recipient (repeatable) or --new-identity the key is sealed with age
to container.key.age; --new-identity also writes a fresh age identity
to identity.txt and seals to it. --plaintext writes container.key in
addition to the sealed copy.`,
		Usage: "bundlecache keygen [flags]",
		Examples: []cli.Example{
			{Description: "Development key", Command: "bundlecache keygen --output keys"},
			{Description: "Production key sealed to a new identity", Command: "bundlecache keygen --output keys --new-identity"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
			flagSet.StringVarP(&outputDirectory, "output", "o", ".", "directory to write key files into")
			flagSet.StringArrayVar(&recipients, "recipient", nil, "age recipient (age1...) to seal the key to")
			flagSet.BoolVar(&newIdentity, "new-identity", false, "generate an age identity and seal the key to it")
			flagSet.BoolVar(&plaintext, "plaintext", false, "also write the plaintext key when sealing")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			return runKeygen(stdout, outputDirectory, recipients, newIdentity, plaintext)
		},
	}
}

func runKeygen(stdout io.Writer, outputDirectory string, recipients []string, newIdentity, plaintext bool) error {
	if err := os.MkdirAll(outputDirectory, 0o700); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	key, err := container.GenerateKey()
	if err != nil {
		return err
	}
	defer key.Close()

	if newIdentity {
		identity, err := sealed.GenerateIdentity()
		if err != nil {
			return err
		}
		defer identity.Close()
		path := filepath.Join(outputDirectory, identityFile)
		if err := writeSecretFile(path, append([]byte(identity.PrivateKey.String()), '\n')); err != nil {
			return err
		}
		recipients = append(recipients, identity.Recipient)
		fmt.Fprintf(stdout, "identity:   %s (recipient %s)\n", path, identity.Recipient)
	}

	if len(recipients) > 0 {
		sealedKey, err := sealed.SealKey(key, recipients)
		if err != nil {
			return err
		}
		path := filepath.Join(outputDirectory, sealedKeyFile)
		if err := writeSecretFile(path, []byte(sealedKey+"\n")); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "sealed key: %s\n", path)
	}

	if len(recipients) == 0 || plaintext {
		encoded := make([]byte, hex.EncodedLen(key.Len())+1)
		hex.Encode(encoded, key.Bytes())
		encoded[len(encoded)-1] = '\n'
		path := filepath.Join(outputDirectory, plaintextKeyFile)
		err := writeSecretFile(path, encoded)
		secret.Zero(encoded)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "key:        %s\n", path)
	}
	return nil
}

// writeSecretFile writes data readable only by the owner, refusing to
// replace an existing key.
func writeSecretFile(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return file.Close()
}
