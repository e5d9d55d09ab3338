// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/bundlecache/lib/bundle"
	"github.com/bureau-foundation/bundlecache/lib/bundlecache"
	"github.com/bureau-foundation/bundlecache/lib/clock"
	"github.com/bureau-foundation/bundlecache/lib/config"
	"github.com/bureau-foundation/bundlecache/lib/container"
	"github.com/bureau-foundation/bundlecache/lib/sealed"
	"github.com/bureau-foundation/bundlecache/lib/secret"
)

// loadConfig loads and validates the configuration from path, or from
// BUNDLECACHE_CONFIG when path is empty.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

// loadKeys reads the master key the configuration names.
func loadKeys(cfg *config.Config) (*container.KeySet, error) {
	var key *secret.Buffer
	var err error
	if cfg.Key.File != "" {
		key, err = secret.ReadHexKey(cfg.Key.File, container.KeySize)
	} else {
		key, err = sealed.ReadSealedKey(cfg.Key.SealedFile, cfg.Key.IdentityFile, container.KeySize)
	}
	if err != nil {
		return nil, fmt.Errorf("loading container key: %w", err)
	}
	keys, err := container.NewKeySet(key)
	if err != nil {
		key.Close()
		return nil, err
	}
	return keys, nil
}

// environment is an initialized cache and the key it reads with.
type environment struct {
	config *config.Config
	keys   *container.KeySet
	clock  clock.Clock
	cache  *bundlecache.Cache
}

// openEnvironment loads the configuration and key and initializes a
// cache from the manifest.
func openEnvironment(ctx context.Context, configPath string, logger *slog.Logger) (*environment, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	keys, err := loadKeys(cfg)
	if err != nil {
		return nil, err
	}

	clk := clock.Real()
	cache, err := bundlecache.New(bundlecache.Options{
		Reader:             container.NewReader(keys, logger),
		Decoder:            bundle.Decoder{},
		ContainerDirectory: cfg.Containers.Directory,
		ManifestContainer:  cfg.Containers.ManifestContainer,
		ManifestBlock:      cfg.Containers.ManifestBlock,
		IdleThreshold:      cfg.Cache.IdleThreshold,
		Workers:            cfg.Cache.Workers,
		Clock:              clk,
		Logger:             logger,
	})
	if err != nil {
		keys.Close()
		return nil, err
	}
	if err := cache.Init(ctx); err != nil {
		cache.Close()
		keys.Close()
		return nil, err
	}
	return &environment{config: cfg, keys: keys, clock: clk, cache: cache}, nil
}

func (e *environment) Close() error {
	err := e.cache.Close()
	e.keys.Close()
	return err
}
