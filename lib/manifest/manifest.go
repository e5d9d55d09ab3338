// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest holds the immutable lookup tables that tell the
// bundle cache where content lives: which bundles each bundle depends
// on, which bundle and asset a logical path names, and which container
// file holds each bundle.
//
// The text form has three newline-delimited sections, each terminated
// by a line containing only "#":
//
//	characters,shared,shaders       <- bundle,dependency,dependency...
//	shared
//	#
//	ui/hero|hero.prefab|characters  <- logical path|asset|bundle
//	#
//	characters|characters.pak       <- bundle|container file
//	shared|base.pak
//	#
//
// Blank lines are ignored and fields are whitespace-trimmed. A
// [Registry] is validated when it is built: a dependency cycle is an
// error, so the cache never has to recurse through one.
package manifest

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Address is the resolved location of one logical path.
type Address struct {
	// Path is the logical path callers load by.
	Path string
	// Asset is the asset's name inside its bundle.
	Asset string
	// Bundle is the owning bundle's name.
	Bundle string
}

// Registry is the parsed manifest. It is read-only after construction
// and safe for concurrent use.
type Registry struct {
	dependencies map[string][]string
	addresses    map[string]Address
	containers   map[string]string
}

// CycleError reports a dependency cycle. Cycle starts and ends with
// the same bundle.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Cycle, " -> ")
}

// New builds a registry from already-parsed tables and validates it.
// The maps are copied.
func New(dependencies map[string][]string, addresses []Address, containers map[string]string) (*Registry, error) {
	registry := &Registry{
		dependencies: make(map[string][]string, len(dependencies)),
		addresses:    make(map[string]Address, len(addresses)),
		containers:   make(map[string]string, len(containers)),
	}

	var errs []error
	for bundle, deps := range dependencies {
		if bundle == "" {
			errs = append(errs, errors.New("dependency entry with empty bundle name"))
			continue
		}
		for _, dependency := range deps {
			if dependency == bundle {
				errs = append(errs, &CycleError{Cycle: []string{bundle, bundle}})
			}
		}
		registry.dependencies[bundle] = slices.Clone(deps)
	}
	for _, address := range addresses {
		if address.Path == "" || address.Asset == "" || address.Bundle == "" {
			errs = append(errs, fmt.Errorf("address %+v has an empty field", address))
			continue
		}
		if _, exists := registry.addresses[address.Path]; exists {
			errs = append(errs, fmt.Errorf("duplicate logical path %q", address.Path))
			continue
		}
		registry.addresses[address.Path] = address
	}
	for bundle, file := range containers {
		if bundle == "" || file == "" {
			errs = append(errs, fmt.Errorf("container entry %q -> %q has an empty field", bundle, file))
			continue
		}
		registry.containers[bundle] = file
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if cycle := registry.findCycle(); cycle != nil {
		return nil, &CycleError{Cycle: cycle}
	}
	return registry, nil
}

// findCycle runs a depth-first search over the dependency graph in
// sorted bundle order and returns the first cycle found.
func (r *Registry) findCycle() []string {
	const (
		unvisited = iota
		inProgress
		finished
	)
	state := make(map[string]int, len(r.dependencies))
	var stack []string

	var visit func(bundle string) []string
	visit = func(bundle string) []string {
		switch state[bundle] {
		case finished:
			return nil
		case inProgress:
			start := slices.Index(stack, bundle)
			return append(slices.Clone(stack[start:]), bundle)
		}
		state[bundle] = inProgress
		stack = append(stack, bundle)
		for _, dependency := range r.dependencies[bundle] {
			if cycle := visit(dependency); cycle != nil {
				return cycle
			}
		}
		stack = stack[:len(stack)-1]
		state[bundle] = finished
		return nil
	}

	for _, bundle := range sortedKeys(r.dependencies) {
		if cycle := visit(bundle); cycle != nil {
			return cycle
		}
	}
	return nil
}

// Dependencies returns the direct dependencies of bundle in manifest
// order. A bundle without an entry has none.
func (r *Registry) Dependencies(bundle string) []string {
	return slices.Clone(r.dependencies[bundle])
}

// Resolve looks up a logical path.
func (r *Registry) Resolve(path string) (Address, bool) {
	address, ok := r.addresses[path]
	return address, ok
}

// Container returns the container file name holding bundle.
func (r *Registry) Container(bundle string) (string, bool) {
	file, ok := r.containers[bundle]
	return file, ok
}

// Paths returns every logical path, sorted.
func (r *Registry) Paths() []string {
	return sortedKeys(r.addresses)
}

// Bundles returns every bundle name mentioned anywhere in the
// manifest, sorted.
func (r *Registry) Bundles() []string {
	seen := make(map[string]struct{})
	for bundle, deps := range r.dependencies {
		seen[bundle] = struct{}{}
		for _, dependency := range deps {
			seen[dependency] = struct{}{}
		}
	}
	for _, address := range r.addresses {
		seen[address.Bundle] = struct{}{}
	}
	for bundle := range r.containers {
		seen[bundle] = struct{}{}
	}
	return sortedKeys(seen)
}

// Closure returns bundle followed by its transitive dependencies in
// depth-first order, each once.
func (r *Registry) Closure(bundle string) []string {
	var order []string
	seen := make(map[string]bool)
	var visit func(string)
	visit = func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		order = append(order, name)
		for _, dependency := range r.dependencies[name] {
			visit(dependency)
		}
	}
	visit(bundle)
	return order
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
