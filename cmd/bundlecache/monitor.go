// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/bundlecache/cmd/bundlecache/cli"
	"github.com/bureau-foundation/bundlecache/lib/bundlecache"
	"github.com/bureau-foundation/bundlecache/lib/monitor"
)

func monitorCommand() *cli.Command {
	var (
		configPath string
		hold       time.Duration
		repeat     time.Duration
	)
	return &cli.Command{
		Name:    "monitor",
		Summary: "Drive the cache from a live terminal view",
		Description: `Open the cache and show its registry live.

The given logical paths are loaded asynchronously when the monitor
starts. Each handle is released after --hold, after which its bundles
go idle and are evicted once the idle threshold passes. With --repeat
the paths are loaded again on that period, so the whole lifecycle
(reading, decoding, awaiting dependencies, ready, idle, evicted) can
be watched.

Logs are discarded while the screen is in use.`,
		Usage: "bundlecache monitor [flags] [path...]",
		Examples: []cli.Example{
			{Command: "bundlecache monitor --hold 3s --repeat 20s ui/hero audio/theme"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("monitor", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file (default: $BUNDLECACHE_CONFIG)")
			flagSet.DurationVar(&hold, "hold", 5*time.Second, "release each handle after this long")
			flagSet.DurationVar(&repeat, "repeat", 0, "reload the paths on this period (0: load once)")
			return flagSet
		},
		Run: func(args []string) error {
			if !cli.IsTerminal() {
				return fmt.Errorf("monitor needs a terminal on stdout")
			}
			env, err := openEnvironment(context.Background(), configPath, nil)
			if err != nil {
				return err
			}
			defer env.Close()

			driver := &churnDriver{cache: env.cache, paths: args, hold: hold, repeat: repeat}
			model := monitor.New(env.cache, monitor.Options{
				Interval: env.config.Cache.FrameInterval,
				OnFrame:  driver.frame,
			})
			_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
			return err
		},
	}
}

// churnDriver loads its paths, releases each handle after hold, and
// reloads on every repeat period. It runs on the monitor's tick, which
// is the cache's driving goroutine.
type churnDriver struct {
	cache  *bundlecache.Cache
	paths  []string
	hold   time.Duration
	repeat time.Duration

	lastLoad time.Time
	held     []heldHandle
}

type heldHandle struct {
	handle bundlecache.Handle
	since  time.Time
}

func (d *churnDriver) frame() {
	now := d.cache.Now()
	if d.lastLoad.IsZero() || (d.repeat > 0 && now.Sub(d.lastLoad) >= d.repeat) {
		d.lastLoad = now
		for _, path := range d.paths {
			// Path errors surface as missing rows; the TUI has no
			// error pane.
			bundlecache.LoadAssetAsync(d.cache, path, func(_ []byte, handle bundlecache.Handle, err error) {
				if err == nil {
					d.held = append(d.held, heldHandle{handle: handle, since: d.cache.Now()})
				}
			})
		}
	}

	kept := d.held[:0]
	for _, held := range d.held {
		if now.Sub(held.since) >= d.hold {
			d.cache.UnloadAsset(held.handle)
			continue
		}
		kept = append(kept, held)
	}
	d.held = kept
}
