// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/bureau-foundation/bundlecache/lib/container"
)

// Set with -ldflags -X, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/bundlecache/lib/version.GitCommit=$(git rev-parse --short HEAD)"
var (
	Version   = "0.1.0-dev"
	GitCommit = ""
	GitDirty  = ""
	BuildTime = ""
)

// build is the commit, dirty flag, and time in effect: ldflags values
// where set, otherwise the VCS stamp the go command embeds.
type build struct {
	commit string
	dirty  bool
	time   string
}

func current() build {
	result := build{commit: GitCommit, dirty: GitDirty == "true", time: BuildTime}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if result.commit == "" && len(setting.Value) >= 7 {
					result.commit = setting.Value[:7]
				}
			case "vcs.modified":
				if GitDirty == "" {
					result.dirty = setting.Value == "true"
				}
			case "vcs.time":
				if result.time == "" {
					result.time = setting.Value
				}
			}
		}
	}
	if result.commit == "" {
		result.commit = "unknown"
	}
	if result.time == "" {
		result.time = "unknown"
	}
	return result
}

// Info is the one-line form printed by --version.
func Info() string {
	b := current()
	dirty := ""
	if b.dirty {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, b.commit, dirty, b.time)
}

// Full adds the toolchain, platform, and the container format version
// this binary reads and writes.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s\n  Container format: v%d",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH, container.FormatVersion)
}
