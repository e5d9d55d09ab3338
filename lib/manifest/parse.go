// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Section names used in parse errors.
const (
	SectionDependencies = "dependencies"
	SectionAddresses    = "addresses"
	SectionContainers   = "containers"
)

var sections = [...]string{SectionDependencies, SectionAddresses, SectionContainers}

const sectionTerminator = "#"

// ParseError locates a problem in the manifest text.
type ParseError struct {
	Section string
	Line    int
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("manifest %s section, line %d: %v", e.Section, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse reads the text form and returns a validated registry.
func Parse(reader io.Reader) (*Registry, error) {
	dependencies := make(map[string][]string)
	var addresses []Address
	containers := make(map[string]string)

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	section := 0
	line := 0
	fail := func(format string, args ...any) error {
		return &ParseError{Section: sections[section], Line: line, Err: fmt.Errorf(format, args...)}
	}

	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if section == len(sections) {
			return nil, &ParseError{Section: SectionContainers, Line: line, Err: fmt.Errorf("unexpected content after final %q: %q", sectionTerminator, text)}
		}
		if text == sectionTerminator {
			section++
			continue
		}

		switch sections[section] {
		case SectionDependencies:
			fields := splitFields(text, ",")
			bundle := fields[0]
			if bundle == "" {
				return nil, fail("empty bundle name")
			}
			if _, exists := dependencies[bundle]; exists {
				return nil, fail("duplicate dependency entry for %q", bundle)
			}
			var deps []string
			for _, dependency := range fields[1:] {
				if dependency != "" {
					deps = append(deps, dependency)
				}
			}
			dependencies[bundle] = deps

		case SectionAddresses:
			fields := splitFields(text, "|")
			if len(fields) != 3 {
				return nil, fail("want path|asset|bundle, got %d fields", len(fields))
			}
			for _, address := range addresses {
				if address.Path == fields[0] {
					return nil, fail("duplicate logical path %q", fields[0])
				}
			}
			addresses = append(addresses, Address{Path: fields[0], Asset: fields[1], Bundle: fields[2]})

		case SectionContainers:
			fields := splitFields(text, "|")
			if len(fields) != 2 {
				return nil, fail("want bundle|container, got %d fields", len(fields))
			}
			if _, exists := containers[fields[0]]; exists {
				return nil, fail("duplicate container entry for %q", fields[0])
			}
			containers[fields[0]] = fields[1]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	if section < len(sections) {
		return nil, &ParseError{Section: sections[section], Line: line, Err: fmt.Errorf("missing %q terminator", sectionTerminator)}
	}

	registry, err := New(dependencies, addresses, containers)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return registry, nil
}

// ParseBytes is Parse over an in-memory manifest.
func ParseBytes(data []byte) (*Registry, error) {
	return Parse(bytes.NewReader(data))
}

func splitFields(text, separator string) []string {
	fields := strings.Split(text, separator)
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields
}

// Format writes the registry in the text form Parse reads. Output is
// sorted so equal registries format identically.
func (r *Registry) Format(writer io.Writer) error {
	buffered := bufio.NewWriter(writer)

	for _, bundle := range sortedKeys(r.dependencies) {
		fields := append([]string{bundle}, r.dependencies[bundle]...)
		fmt.Fprintln(buffered, strings.Join(fields, ","))
	}
	fmt.Fprintln(buffered, sectionTerminator)

	for _, path := range r.Paths() {
		address := r.addresses[path]
		fmt.Fprintf(buffered, "%s|%s|%s\n", address.Path, address.Asset, address.Bundle)
	}
	fmt.Fprintln(buffered, sectionTerminator)

	for _, bundle := range sortedKeys(r.containers) {
		fmt.Fprintf(buffered, "%s|%s\n", bundle, r.containers[bundle])
	}
	fmt.Fprintln(buffered, sectionTerminator)

	return buffered.Flush()
}

// Bytes returns the formatted registry.
func (r *Registry) Bytes() []byte {
	var buffer bytes.Buffer
	if err := r.Format(&buffer); err != nil {
		panic(errors.Join(errors.New("manifest: formatting into memory"), err))
	}
	return buffer.Bytes()
}
