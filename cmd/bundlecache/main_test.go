// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/bundlecache/cmd/bundlecache/cli"
)

const packSpec = `{
    // Characters pull in the shared palette.
    "bundles": {
        "characters": {
            "container": "characters.pak",
            "dependencies": ["shared"],
            "compression": "lz4",
            "assets": {
                "hero": {"path": "ui/hero", "file": "hero.bin"},
                "hero-stats": {"path": "data/hero", "value": {"health": 100}},
            },
        },
        "shared": {
            "container": "base.pak",
            "assets": {"palette": {"path": "shared/palette", "text": "red green blue"}},
        },
    },
}`

// workspace is a key, a config file, and a packed containers directory.
type workspace struct {
	config     string
	containers string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	root := t.TempDir()
	keys := filepath.Join(root, "keys")
	containers := filepath.Join(root, "containers")

	output := execute(t, "keygen", "--output", keys)
	if !strings.Contains(output, "container.key") {
		t.Fatalf("keygen output = %q", output)
	}

	configPath := filepath.Join(root, "bundlecache.yaml")
	configText := "environment: development\n" +
		"root: " + root + "\n" +
		"containers:\n  directory: ${BUNDLECACHE_ROOT}/containers\n" +
		"key:\n  file: " + filepath.Join(keys, "container.key") + "\n" +
		"cache:\n  frame_interval: 1ms\n"
	if err := os.WriteFile(configPath, []byte(configText), 0o600); err != nil {
		t.Fatal(err)
	}

	content := filepath.Join(root, "content")
	if err := os.MkdirAll(content, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(content, "hero.bin"), []byte("hero mesh"), 0o600); err != nil {
		t.Fatal(err)
	}
	specPath := filepath.Join(content, "pack.jsonc")
	if err := os.WriteFile(specPath, []byte(packSpec), 0o600); err != nil {
		t.Fatal(err)
	}

	output = execute(t, "pack", "--config", configPath, "--log-level", "error", specPath)
	if !strings.Contains(output, "2 bundles, 3 paths") {
		t.Fatalf("pack output = %q", output)
	}
	return workspace{config: configPath, containers: containers}
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var stdout bytes.Buffer
	if err := root(&stdout).Execute(args); err != nil {
		t.Fatalf("bundlecache %s: %v\n%s", strings.Join(args, " "), err, stdout.String())
	}
	return stdout.String()
}

func TestKeygenRefusesToOverwrite(t *testing.T) {
	directory := t.TempDir()
	execute(t, "keygen", "--output", directory)
	var stdout bytes.Buffer
	if err := root(&stdout).Execute([]string{"keygen", "--output", directory}); err == nil {
		t.Fatal("second keygen replaced an existing key")
	}
}

func TestKeygenNewIdentity(t *testing.T) {
	directory := t.TempDir()
	output := execute(t, "keygen", "--output", directory, "--new-identity")
	for _, want := range []string{"identity.txt", "container.key.age", "age1"} {
		if !strings.Contains(output, want) {
			t.Errorf("keygen output missing %q:\n%s", want, output)
		}
	}
	if _, err := os.Stat(filepath.Join(directory, "container.key")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("plaintext key written without --plaintext: %v", err)
	}
}

func TestInspect(t *testing.T) {
	ws := newWorkspace(t)
	base := filepath.Join(ws.containers, "base.pak")

	listing := execute(t, "inspect", base)
	for _, want := range []string{"BLOCK", "manifest", "shared", "zstd"} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing missing %q:\n%s", want, listing)
		}
	}

	manifestText := execute(t, "inspect", "--config", ws.config, "--block", "manifest", base)
	for _, want := range []string{"characters,shared", "ui/hero|hero|characters", "characters|characters.pak"} {
		if !strings.Contains(manifestText, want) {
			t.Errorf("manifest missing %q:\n%s", want, manifestText)
		}
	}

	bundleText := execute(t, "inspect", "--config", ws.config, "--block", "shared", base)
	if !strings.Contains(bundleText, `"palette"`) {
		t.Errorf("bundle diagnostic missing asset name:\n%s", bundleText)
	}
}

func TestLoadSync(t *testing.T) {
	ws := newWorkspace(t)
	output := execute(t, "load", "--config", ws.config, "ui/hero", "shared/palette")
	for _, want := range []string{"ui/hero", "9 bytes", "characters\trefs=1", "shared\trefs=2", "collected 2 bundles"} {
		if !strings.Contains(output, want) {
			t.Errorf("load output missing %q:\n%s", want, output)
		}
	}
}

func TestLoadAsync(t *testing.T) {
	ws := newWorkspace(t)
	output := execute(t, "load", "--config", ws.config, "--async", "ui/hero", "shared/palette")
	for _, want := range []string{"9 bytes", "14 bytes", "released 2 handles"} {
		if !strings.Contains(output, want) {
			t.Errorf("load output missing %q:\n%s", want, output)
		}
	}
}

func TestLoadReportsFailures(t *testing.T) {
	ws := newWorkspace(t)
	var stdout bytes.Buffer
	err := root(&stdout).Execute([]string{"load", "--config", ws.config, "--async", "ui/hero", "ui/villain"})

	var exitError *cli.ExitError
	if !errors.As(err, &exitError) || exitError.Code != 1 {
		t.Fatalf("error = %v, want exit code 1", err)
	}
	if !strings.Contains(stdout.String(), "ui/villain") || !strings.Contains(stdout.String(), "FAILED") {
		t.Errorf("failure not reported:\n%s", stdout.String())
	}
	if !strings.Contains(stdout.String(), "released 1 handles") {
		t.Errorf("successful load not released:\n%s", stdout.String())
	}
}

func TestLoadRequiresPaths(t *testing.T) {
	var stdout bytes.Buffer
	if err := root(&stdout).Execute([]string{"load"}); err == nil {
		t.Fatal("load without paths succeeded")
	}
}

func TestVersion(t *testing.T) {
	if output := execute(t, "--version"); !strings.HasPrefix(output, "bundlecache ") {
		t.Errorf("--version output = %q", output)
	}
	if output := execute(t, "version"); !strings.Contains(output, "Container format: v1") {
		t.Errorf("version output = %q", output)
	}
}
