// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundlecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/bureau-foundation/bundlecache/lib/clock"
	"github.com/bureau-foundation/bundlecache/lib/manifest"
	"github.com/bureau-foundation/bundlecache/lib/workpool"
)

// DefaultIdleThreshold is used when Options.IdleThreshold is zero.
const DefaultIdleThreshold = 10 * time.Second

// Options configures a Cache.
type Options struct {
	// Reader fetches bundle and manifest blocks. Required.
	Reader BlockReader

	// Decoder turns bundle bytes into bundles. Required.
	Decoder Decoder

	// Instantiator derives instances for InstantiatePrefab and Clone.
	// Default: CopyInstantiator.
	Instantiator Instantiator

	// ContainerDirectory is joined with relative container names from
	// the manifest.
	ContainerDirectory string

	// ManifestContainer and ManifestBlock locate the manifest for
	// Init. Defaults: "base.pak" and "manifest".
	ManifestContainer string
	ManifestBlock     string

	// IdleThreshold is how long a bundle must stay unreferenced before
	// UpdateFrame evicts it. Default: DefaultIdleThreshold.
	IdleThreshold time.Duration

	// Workers bounds concurrent background reads, decodes, and asset
	// loads. Zero uses GOMAXPROCS.
	Workers int

	// Clock supplies idle timestamps. Default: clock.Real().
	Clock clock.Clock

	// Logger receives cache events. Default: discard.
	Logger *slog.Logger
}

// Cache is the bundle registry. Every method must be called from the
// one goroutine that drives UpdateFrame; only the cache's own pool
// workers run concurrently with it.
type Cache struct {
	reader            BlockReader
	decoder           Decoder
	instantiator      Instantiator
	containerDir      string
	manifestContainer string
	manifestBlock     string
	idleThreshold     time.Duration
	clock             clock.Clock
	logger            *slog.Logger
	pool              *workpool.Pool

	registry *manifest.Registry
	closed   bool
	frame    uint64

	records map[string]*record

	handles    map[Handle]handleEntry
	nextHandle Handle

	pending     []*pendingLoad
	pendingByID map[TaskID]*pendingLoad
	finished    map[TaskID]finishedTask
	nextTask    TaskID
	polling     bool
	cancelled   []*pendingLoad
}

// New creates a cache and starts its worker pool. The cache is not
// usable until Init or InitRegistry succeeds.
func New(options Options) (*Cache, error) {
	if options.Reader == nil {
		return nil, errors.New("bundlecache: Options.Reader is required")
	}
	if options.Decoder == nil {
		return nil, errors.New("bundlecache: Options.Decoder is required")
	}
	if options.IdleThreshold < 0 {
		return nil, fmt.Errorf("bundlecache: negative idle threshold %s", options.IdleThreshold)
	}

	if options.Instantiator == nil {
		options.Instantiator = CopyInstantiator{}
	}
	if options.ManifestContainer == "" {
		options.ManifestContainer = "base.pak"
	}
	if options.ManifestBlock == "" {
		options.ManifestBlock = "manifest"
	}
	if options.IdleThreshold == 0 {
		options.IdleThreshold = DefaultIdleThreshold
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	logger := options.Logger.With("component", "bundlecache")

	return &Cache{
		reader:            options.Reader,
		decoder:           options.Decoder,
		instantiator:      options.Instantiator,
		containerDir:      options.ContainerDirectory,
		manifestContainer: options.ManifestContainer,
		manifestBlock:     options.ManifestBlock,
		idleThreshold:     options.IdleThreshold,
		clock:             options.Clock,
		logger:            logger,
		pool:              workpool.New(options.Workers, logger),
		records:           make(map[string]*record),
		handles:           make(map[Handle]handleEntry),
		pendingByID:       make(map[TaskID]*pendingLoad),
		finished:          make(map[TaskID]finishedTask),
	}, nil
}

// Init reads, parses, and validates the manifest from the manifest
// container. Any failure is InitFailed.
func (c *Cache) Init(ctx context.Context) error {
	if err := c.checkInitable(); err != nil {
		return err
	}
	path := c.containerPath(c.manifestContainer)
	data, err := c.reader.ReadBlock(ctx, path, c.manifestBlock)
	if err != nil {
		return &Error{Code: InitFailed, Op: "init", Err: fmt.Errorf("reading manifest from %s: %w", path, err)}
	}
	registry, err := manifest.ParseBytes(data)
	if err != nil {
		return &Error{Code: InitFailed, Op: "init", Err: err}
	}
	return c.InitRegistry(registry)
}

// InitRegistry installs an already-parsed manifest.
func (c *Cache) InitRegistry(registry *manifest.Registry) error {
	if err := c.checkInitable(); err != nil {
		return err
	}
	if registry == nil {
		return &Error{Code: InitFailed, Op: "init", Err: errors.New("nil registry")}
	}
	c.registry = registry
	c.logger.Info("bundle cache initialized",
		"paths", len(registry.Paths()),
		"bundles", len(registry.Bundles()),
		"workers", c.pool.Workers(),
		"idle_threshold", c.idleThreshold,
	)
	return nil
}

func (c *Cache) checkInitable() error {
	if c.closed {
		return &Error{Code: InitFailed, Op: "init", Err: errors.New("cache is closed")}
	}
	if c.registry != nil {
		return &Error{Code: InitFailed, Op: "init", Err: errors.New("already initialized")}
	}
	return nil
}

// Registry returns the installed manifest, or nil before Init.
func (c *Cache) Registry() *manifest.Registry { return c.registry }

// Close cancels pending loads without calling their callbacks, closes
// every decoded bundle, and stops the worker pool. Handles become
// invalid. Idempotent.
func (c *Cache) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	for _, load := range c.pending {
		if load.item != nil {
			load.item.Cancel()
		}
	}
	c.pending = nil
	c.pendingByID = make(map[TaskID]*pendingLoad)
	c.handles = make(map[Handle]handleEntry)

	for _, record := range c.records {
		if record.read != nil {
			record.read.Cancel()
		}
		if record.decode != nil {
			record.decode.Cancel()
		}
	}
	err := c.pool.Close()

	for _, record := range c.records {
		// A decode that finished while the pool drained still owns a
		// bundle that nothing else will close.
		if record.decode != nil && record.decode.IsSuccessful() {
			record.bundle = record.decode.Result()
		}
		if record.bundle != nil {
			c.closeBundle(record)
		}
		record.state = stateReleased
	}
	c.records = make(map[string]*record)
	c.logger.Info("bundle cache closed")
	return err
}

func (c *Cache) checkReady(op string) error {
	if c.closed {
		return &Error{Code: NotInited, Op: op, Err: errors.New("cache is closed")}
	}
	if c.registry == nil {
		return &Error{Code: NotInited, Op: op}
	}
	return nil
}

func (c *Cache) containerPath(name string) string {
	if c.containerDir == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.containerDir, name)
}

// UpdateFrame is the per-tick entry point: it polls pending item
// loads (firing their callbacks), then polls every record, then evicts
// records that have been idle past the threshold. It never returns an
// error; asynchronous failures reach their callbacks.
func (c *Cache) UpdateFrame() {
	if c.checkReady("update") != nil {
		return
	}
	c.frame++
	for id, finished := range c.finished {
		if finished.frame < c.frame {
			delete(c.finished, id)
		}
	}

	c.pollPending()

	for _, record := range c.records {
		c.poll(record)
	}

	c.sweep(c.clock.Now(), false)
}

// Collect evicts every idle record now, ignoring the idle threshold.
// Used at scene transitions. Returns the number of records removed.
func (c *Cache) Collect() int {
	if c.checkReady("collect") != nil {
		return 0
	}
	return c.sweep(c.clock.Now(), true)
}

// sweep removes evictable records until none remain; evicting a record
// can make its dependencies evictable in the same pass.
func (c *Cache) sweep(now time.Time, force bool) int {
	removed := 0
	for {
		var victims []*record
		for _, record := range c.records {
			if c.evictable(record, now, force) {
				victims = append(victims, record)
			}
		}
		if len(victims) == 0 {
			return removed
		}
		for _, record := range victims {
			wasFailed := record.state == stateFailed
			c.remove(record)
			removed++
			if wasFailed {
				c.logger.Debug("failed bundle removed", "bundle", record.name)
			} else {
				c.logger.Debug("bundle evicted", "bundle", record.name, "idle", now.Sub(record.idleSince))
			}
		}
	}
}

// QueryProgress reports an asynchronous load's progress: 0 while its
// bundle is not ready, 1 once it is. A finished task keeps reporting 1
// (or -1 if it failed) until the end of the next UpdateFrame; after
// that, and for unknown IDs, the result is -1.
func (c *Cache) QueryProgress(id TaskID) float64 {
	if load, ok := c.pendingByID[id]; ok {
		switch load.record.state {
		case stateReady:
			return 1
		case stateFailed:
			return -1
		default:
			return 0
		}
	}
	if finished, ok := c.finished[id]; ok {
		return finished.progress
	}
	return -1
}

// Cancel abandons an asynchronous load. Its callback will not run and
// its reference on the bundle is released. Returns false if id is not
// pending.
func (c *Cache) Cancel(id TaskID) bool {
	load, ok := c.pendingByID[id]
	if !ok {
		return false
	}
	c.cancelPending(load)
	return true
}

// GetDebugInfo maps every registered bundle to its reference count.
func (c *Cache) GetDebugInfo() map[string]int {
	info := make(map[string]int, len(c.records))
	for name, record := range c.records {
		info[name] = record.referenceCount
	}
	return info
}

// Stats is a snapshot of cache occupancy.
type Stats struct {
	Frame        uint64
	Records      int
	Ready        int
	Loading      int
	Failed       int
	Idle         int
	Handles      int
	PendingLoads int
	QueuedJobs   int
	RunningJobs  int
}

// Stats returns current counts.
func (c *Cache) Stats() Stats {
	stats := Stats{
		Frame:        c.frame,
		Records:      len(c.records),
		Handles:      len(c.handles),
		PendingLoads: len(c.pendingByID),
		QueuedJobs:   c.pool.Pending(),
		RunningJobs:  c.pool.Running(),
	}
	for _, record := range c.records {
		switch record.state {
		case stateReady:
			stats.Ready++
		case stateFailed:
			stats.Failed++
		default:
			stats.Loading++
		}
		if record.referenceCount <= 0 {
			stats.Idle++
		}
	}
	return stats
}

// BundleInfo describes one registered bundle.
type BundleInfo struct {
	Name           string
	Container      string
	State          string
	Synchronous    bool
	ReferenceCount int
	Dependents     int
	Dependencies   []string
	// IdleSince is zero while the bundle is referenced.
	IdleSince time.Time
	Err       error
}

// Bundles returns every registered bundle sorted by name.
func (c *Cache) Bundles() []BundleInfo {
	infos := make([]BundleInfo, 0, len(c.records))
	for _, record := range c.records {
		dependencies := make([]string, len(record.dependencies))
		for i, dependency := range record.dependencies {
			dependencies[i] = dependency.name
		}
		infos = append(infos, BundleInfo{
			Name:           record.name,
			Container:      record.container,
			State:          record.state.String(),
			Synchronous:    record.synchronous,
			ReferenceCount: record.referenceCount,
			Dependents:     record.dependents,
			Dependencies:   dependencies,
			IdleSince:      record.idleSince,
			Err:            record.err,
		})
	}
	slices.SortFunc(infos, func(a, b BundleInfo) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return infos
}

// IdleThreshold returns the configured eviction threshold.
func (c *Cache) IdleThreshold() time.Duration { return c.idleThreshold }

// Now returns the cache clock's current time.
func (c *Cache) Now() time.Time { return c.clock.Now() }
