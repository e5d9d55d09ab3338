// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/bundlecache/cmd/bundlecache/cli"
	"github.com/bureau-foundation/bundlecache/lib/codec"
	"github.com/bureau-foundation/bundlecache/lib/container"
	"github.com/bureau-foundation/bundlecache/lib/manifest"
)

func inspectCommand(stdout io.Writer) *cli.Command {
	var (
		configPath string
		block      string
		jsonOutput bool
	)
	return &cli.Command{
		Name:    "inspect",
		Summary: "List a container's blocks or dump one block",
		Description: `Show the block directory of a container file.

The directory is stored in the clear, so listing needs no key. With
--block the named block is decrypted with the configured key and
printed: the manifest as text, bundles and other CBOR blocks in CBOR
diagnostic notation, and anything else as a hex dump.`,
		Usage: "bundlecache inspect [flags] <container>",
		Examples: []cli.Example{
			{Description: "List blocks", Command: "bundlecache inspect containers/base.pak"},
			{Description: "Show the manifest", Command: "bundlecache inspect --block manifest containers/base.pak"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file (default: $BUNDLECACHE_CONFIG)")
			flagSet.StringVar(&block, "block", "", "decrypt and print this block")
			flagSet.BoolVar(&jsonOutput, "json", false, "print the directory as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one container file is required")
			}
			if block != "" {
				return inspectBlock(stdout, configPath, args[0], block)
			}
			return inspectDirectory(stdout, args[0], jsonOutput)
		},
	}
}

func inspectDirectory(stdout io.Writer, path string, jsonOutput bool) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return err
	}
	directory, err := container.ReadDirectory(file, info.Size())
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	if jsonOutput {
		encoder := json.NewEncoder(stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(directory)
	}

	writer := tabwriter.NewWriter(stdout, 2, 0, 2, ' ', 0)
	fmt.Fprintf(writer, "BLOCK\tCOMPRESSION\tSTORED\tSIZE\tHASH\n")
	for _, entry := range directory.Entries {
		fmt.Fprintf(writer, "%s\t%s\t%d\t%d\t%s\n",
			entry.Name, entry.Compression, entry.StoredSize, entry.UncompressedSize, hex.EncodeToString(entry.Hash[:8]))
	}
	return writer.Flush()
}

func inspectBlock(stdout io.Writer, configPath, path, block string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	keys, err := loadKeys(cfg)
	if err != nil {
		return err
	}
	defer keys.Close()

	data, err := container.NewReader(keys, nil).ReadBlock(context.Background(), path, block)
	if err != nil {
		return err
	}

	if block == cfg.Containers.ManifestBlock {
		if registry, err := manifest.ParseBytes(data); err == nil {
			return registry.Format(stdout)
		}
	}
	if codec.Valid(data) == nil {
		diagnostic, err := codec.Diagnose(data)
		if err == nil {
			_, err = fmt.Fprintln(stdout, diagnostic)
			return err
		}
	}
	_, err = io.WriteString(stdout, hex.Dump(data))
	return err
}
