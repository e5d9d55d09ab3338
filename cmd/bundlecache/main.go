// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// bundlecache packs, inspects, and serves bundles from encrypted
// containers.
//
// Subcommands:
//
//	keygen   generate a container key (plaintext and/or age-sealed)
//	pack     build containers from a JSONC pack spec
//	inspect  list a container's blocks or dump one block
//	load     load logical paths through the cache and report
//	monitor  drive the cache from a live terminal view
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/bundlecache/cmd/bundlecache/cli"
	"github.com/bureau-foundation/bundlecache/lib/version"
)

func main() {
	if err := run(); err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return root(os.Stdout).Execute(os.Args[1:])
}

// root builds the command tree. Command output goes to stdout; logs
// and help go to stderr.
func root(stdout io.Writer) *cli.Command {
	var showVersion bool
	command := &cli.Command{
		Name: "bundlecache",
		Description: `bundlecache: a dependency-aware bundle cache over encrypted containers.

Bundles are packed into containers whose blocks are compressed and
sealed with a per-block key derived from one master key. A manifest
block maps logical asset paths to bundles, bundles to their
dependencies, and bundles to container files.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("bundlecache", pflag.ContinueOnError)
			flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
			return flagSet
		},
		Subcommands: []*cli.Command{
			keygenCommand(stdout),
			packCommand(stdout),
			inspectCommand(stdout),
			loadCommand(stdout),
			monitorCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Fprintf(stdout, "bundlecache %s\n", version.Full())
					return nil
				},
			},
		},
	}
	command.Run = func(args []string) error {
		if showVersion {
			fmt.Fprintf(stdout, "bundlecache %s\n", version.Info())
			return nil
		}
		command.PrintHelp(os.Stderr)
		return fmt.Errorf("subcommand required")
	}
	return command
}
