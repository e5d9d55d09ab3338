// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local iteration on content.
	Development Environment = "development"
	// Production is for shipped builds.
	Production Environment = "production"
)

// Config is the configuration for a bundle cache.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Root is the base directory that ${BUNDLECACHE_ROOT} expands to.
	Root string `yaml:"root"`

	// Containers locates the packed container files.
	Containers ContainersConfig `yaml:"containers"`

	// Key locates the container decryption key.
	Key KeyConfig `yaml:"key"`

	// Cache tunes the registry and its worker pool.
	Cache CacheConfig `yaml:"cache"`

	Development *ConfigOverrides `yaml:"development,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Containers *ContainersConfig `yaml:"containers,omitempty"`
	Key        *KeyConfig        `yaml:"key,omitempty"`
	Cache      *CacheConfig      `yaml:"cache,omitempty"`
}

// ContainersConfig locates container files.
type ContainersConfig struct {
	// Directory holds every container file named by the manifest.
	Directory string `yaml:"directory"`

	// ManifestContainer is the container (relative to Directory) that
	// holds the manifest block.
	// Default: base.pak
	ManifestContainer string `yaml:"manifest_container"`

	// ManifestBlock is the block name of the manifest.
	// Default: manifest
	ManifestBlock string `yaml:"manifest_block"`
}

// KeyConfig locates the 32-byte container key. Exactly one of File or
// SealedFile must be set; SealedFile requires IdentityFile.
type KeyConfig struct {
	// File is a hex-encoded plaintext key.
	File string `yaml:"file"`

	// SealedFile is an age-sealed key produced by "bundlecache keygen".
	SealedFile string `yaml:"sealed_file"`

	// IdentityFile is the age identity that unseals SealedFile.
	IdentityFile string `yaml:"identity_file"`
}

// CacheConfig tunes the cache.
type CacheConfig struct {
	// IdleThreshold is how long a bundle must stay unreferenced before
	// the eviction sweep releases it.
	// Default: 10s
	IdleThreshold time.Duration `yaml:"idle_threshold"`

	// Workers is the number of background read and decode workers.
	// Zero uses GOMAXPROCS.
	Workers int `yaml:"workers"`

	// FrameInterval is how often command-line drivers call UpdateFrame.
	// Default: 16ms
	FrameInterval time.Duration `yaml:"frame_interval"`
}

// Default returns the default configuration. The key is deliberately
// left unset: there is no default key.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "bundlecache")

	return &Config{
		Environment: Development,
		Root:        defaultRoot,
		Containers: ContainersConfig{
			Directory:         "${BUNDLECACHE_ROOT}/containers",
			ManifestContainer: "base.pak",
			ManifestBlock:     "manifest",
		},
		Cache: CacheConfig{
			IdleThreshold: 10 * time.Second,
			FrameInterval: 16 * time.Millisecond,
		},
	}
}

// Load loads configuration from the BUNDLECACHE_CONFIG environment
// variable. There are no fallbacks: if it is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("BUNDLECACHE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("BUNDLECACHE_CONFIG environment variable not set; " +
			"set it to the path of your bundlecache.yaml, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if overrides.Containers != nil {
		if overrides.Containers.Directory != "" {
			c.Containers.Directory = overrides.Containers.Directory
		}
		if overrides.Containers.ManifestContainer != "" {
			c.Containers.ManifestContainer = overrides.Containers.ManifestContainer
		}
		if overrides.Containers.ManifestBlock != "" {
			c.Containers.ManifestBlock = overrides.Containers.ManifestBlock
		}
	}

	// A key override replaces the whole key section so that switching
	// from a plaintext file to a sealed key does not leave both set.
	if overrides.Key != nil {
		c.Key = *overrides.Key
	}

	if overrides.Cache != nil {
		if overrides.Cache.IdleThreshold != 0 {
			c.Cache.IdleThreshold = overrides.Cache.IdleThreshold
		}
		if overrides.Cache.Workers != 0 {
			c.Cache.Workers = overrides.Cache.Workers
		}
		if overrides.Cache.FrameInterval != 0 {
			c.Cache.FrameInterval = overrides.Cache.FrameInterval
		}
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"BUNDLECACHE_ROOT": c.Root,
		"HOME":             os.Getenv("HOME"),
	}

	c.Root = expandVars(c.Root, vars)
	vars["BUNDLECACHE_ROOT"] = c.Root

	c.Containers.Directory = expandVars(c.Containers.Directory, vars)
	c.Key.File = expandVars(c.Key.File, vars)
	c.Key.SealedFile = expandVars(c.Key.SealedFile, vars)
	c.Key.IdentityFile = expandVars(c.Key.IdentityFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, preferring
// vars over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		defaultValue := parts[2]

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// ManifestPath returns the full path of the manifest container.
func (c *Config) ManifestPath() string {
	return c.ContainerPath(c.Containers.ManifestContainer)
}

// ContainerPath resolves a container file name from the manifest
// against the containers directory. Absolute names are returned as is.
func (c *Config) ContainerPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Containers.Directory, name)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Containers.Directory == "" {
		errs = append(errs, errors.New("containers.directory is required"))
	}
	if c.Containers.ManifestContainer == "" {
		errs = append(errs, errors.New("containers.manifest_container is required"))
	}
	if c.Containers.ManifestBlock == "" {
		errs = append(errs, errors.New("containers.manifest_block is required"))
	}

	switch {
	case c.Key.File == "" && c.Key.SealedFile == "":
		errs = append(errs, errors.New("key.file or key.sealed_file is required"))
	case c.Key.File != "" && c.Key.SealedFile != "":
		errs = append(errs, errors.New("key.file and key.sealed_file are mutually exclusive"))
	case c.Key.SealedFile != "" && c.Key.IdentityFile == "":
		errs = append(errs, errors.New("key.identity_file is required with key.sealed_file"))
	}
	if c.Environment == Production && c.Key.File != "" {
		errs = append(errs, errors.New("production requires key.sealed_file, not a plaintext key.file"))
	}

	if c.Cache.IdleThreshold < 0 {
		errs = append(errs, fmt.Errorf("cache.idle_threshold must not be negative, got %s", c.Cache.IdleThreshold))
	}
	if c.Cache.Workers < 0 {
		errs = append(errs, fmt.Errorf("cache.workers must not be negative, got %d", c.Cache.Workers))
	}
	if c.Cache.FrameInterval <= 0 {
		errs = append(errs, fmt.Errorf("cache.frame_interval must be positive, got %s", c.Cache.FrameInterval))
	}

	return errors.Join(errs...)
}
