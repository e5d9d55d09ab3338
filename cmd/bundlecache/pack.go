// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/bundlecache/cmd/bundlecache/cli"
	"github.com/bureau-foundation/bundlecache/lib/packspec"
)

func packCommand(stdout io.Writer) *cli.Command {
	var (
		configPath      string
		outputDirectory string
		logLevel        string
	)
	return &cli.Command{
		Name:    "pack",
		Summary: "Build containers from a pack spec",
		Description: `Build encrypted containers from a JSONC pack spec.

Every bundle in the spec is encoded, compressed, and sealed into its
container; the manifest is stored in the manifest container. Asset
files are read relative to the spec's directory. Containers are
written to the configured containers directory unless --output is
given.`,
		Usage: "bundlecache pack [flags] <spec.jsonc>",
		Examples: []cli.Example{
			{Command: "bundlecache pack --config bundlecache.yaml content/pack.jsonc"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("pack", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file (default: $BUNDLECACHE_CONFIG)")
			flagSet.StringVarP(&outputDirectory, "output", "o", "", "directory to write containers into")
			flagSet.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one pack spec is required")
			}
			logger, err := commandLogger(logLevel, "pack")
			if err != nil {
				return err
			}

			spec, err := packspec.ReadFile(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			keys, err := loadKeys(cfg)
			if err != nil {
				return err
			}
			defer keys.Close()

			if outputDirectory == "" {
				outputDirectory = cfg.Containers.Directory
			}
			result, err := packspec.Build(spec, packspec.BuildOptions{
				SourceDirectory: filepath.Dir(args[0]),
				OutputDirectory: outputDirectory,
				Keys:            keys,
				Logger:          logger,
			})
			if err != nil {
				return err
			}

			paths := make([]string, 0, len(result.Containers))
			for path := range result.Containers {
				paths = append(paths, path)
			}
			sort.Strings(paths)
			for _, path := range paths {
				fmt.Fprintf(stdout, "%s\t%d blocks\n", path, result.Containers[path])
			}
			fmt.Fprintf(stdout, "%d bundles, %d paths\n", len(result.Registry.Bundles()), len(result.Registry.Paths()))
			return nil
		},
	}
}
