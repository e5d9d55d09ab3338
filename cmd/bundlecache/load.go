// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/bundlecache/cmd/bundlecache/cli"
	"github.com/bureau-foundation/bundlecache/lib/bundlecache"
)

func loadCommand(stdout io.Writer) *cli.Command {
	var (
		configPath string
		async      bool
		timeout    time.Duration
		logLevel   string
	)
	return &cli.Command{
		Name:    "load",
		Summary: "Load logical paths through the cache",
		Description: `Load each logical path through the cache and report the result.

By default each path is loaded synchronously in order. With --async
every path is submitted at once and the frame loop runs at the
configured frame interval until every callback has fired or the
timeout expires. Afterwards the registry's reference counts are
printed, every handle is released, and idle bundles are collected.

Exits 1 if any path failed to load.`,
		Usage: "bundlecache load [flags] <path>...",
		Examples: []cli.Example{
			{Command: "bundlecache load ui/hero audio/theme"},
			{Command: "bundlecache load --async --timeout 5s ui/hero"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("load", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file (default: $BUNDLECACHE_CONFIG)")
			flagSet.BoolVar(&async, "async", false, "load asynchronously through the frame loop")
			flagSet.DurationVar(&timeout, "timeout", 30*time.Second, "give up after this long")
			flagSet.StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("at least one logical path is required")
			}
			logger, err := commandLogger(logLevel, "load")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			env, err := openEnvironment(ctx, configPath, logger)
			if err != nil {
				return err
			}
			defer env.Close()

			var results []loadResult
			if async {
				results = loadAsync(ctx, env, args)
			} else {
				results = loadSync(ctx, env.cache, args)
			}
			return report(stdout, env.cache, results)
		},
	}
}

type loadResult struct {
	path    string
	size    int
	handle  bundlecache.Handle
	elapsed time.Duration
	err     error
}

func loadSync(ctx context.Context, cache *bundlecache.Cache, paths []string) []loadResult {
	results := make([]loadResult, 0, len(paths))
	for _, path := range paths {
		start := time.Now()
		data, handle, err := bundlecache.LoadAsset[[]byte](ctx, cache, path)
		results = append(results, loadResult{
			path:    path,
			size:    len(data),
			handle:  handle,
			elapsed: time.Since(start),
			err:     err,
		})
	}
	return results
}

func loadAsync(ctx context.Context, env *environment, paths []string) []loadResult {
	cache := env.cache
	results := make([]loadResult, len(paths))
	remaining := 0
	start := time.Now()

	for index, path := range paths {
		results[index].path = path
		_, err := bundlecache.LoadAssetAsync(cache, path, func(data []byte, handle bundlecache.Handle, err error) {
			results[index].size = len(data)
			results[index].handle = handle
			results[index].elapsed = time.Since(start)
			results[index].err = err
			remaining--
		})
		if err != nil {
			results[index].err = err
			continue
		}
		remaining++
	}

	ticker := env.clock.NewTicker(env.config.Cache.FrameInterval)
	defer ticker.Stop()
	for remaining > 0 {
		select {
		case <-ctx.Done():
			for index := range results {
				if results[index].err == nil && results[index].handle == 0 {
					results[index].err = fmt.Errorf("not loaded: %w", ctx.Err())
				}
			}
			return results
		case <-ticker.C:
			cache.UpdateFrame()
		}
	}
	return results
}

func report(stdout io.Writer, cache *bundlecache.Cache, results []loadResult) error {
	writer := tabwriter.NewWriter(stdout, 2, 0, 2, ' ', 0)
	failed := 0
	for _, result := range results {
		if result.err != nil {
			failed++
			fmt.Fprintf(writer, "%s\tFAILED\t%s\t%v\n", result.path, bundlecache.CodeOf(result.err), result.err)
			continue
		}
		fmt.Fprintf(writer, "%s\t%d bytes\thandle %d\t%s\n",
			result.path, result.size, result.handle, result.elapsed.Round(time.Microsecond))
	}
	writer.Flush()

	debug := cache.GetDebugInfo()
	names := make([]string, 0, len(debug))
	for name := range debug {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(stdout)
	for _, name := range names {
		fmt.Fprintf(stdout, "%s\trefs=%d\n", name, debug[name])
	}

	for _, result := range results {
		if result.err == nil {
			cache.UnloadAsset(result.handle)
		}
	}
	collected := cache.Collect()
	fmt.Fprintf(stdout, "released %d handles, collected %d bundles\n", len(results)-failed, collected)

	if failed > 0 {
		return &cli.ExitError{Code: 1}
	}
	return nil
}
