// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/bundlecache/cmd/bundlecache/cli"
)

// commandLogger returns the stderr logger scoped to command.
func commandLogger(level, command string) (*slog.Logger, error) {
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	return cli.NewCommandLogger(parsed).With("command", command), nil
}
