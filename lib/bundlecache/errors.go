// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundlecache

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies cache failures for callers that branch on the
// kind of failure rather than its text.
type ErrorCode int

const (
	// Success is reported for a nil error.
	Success ErrorCode = iota
	// NotInited means the cache has no manifest yet (or was closed).
	NotInited
	// InitFailed means the manifest could not be read, parsed, or
	// validated.
	InitFailed
	// UnknownPath means the logical path is not in the manifest.
	UnknownPath
	// BundleNotFound means a bundle has no container entry.
	BundleNotFound
	// LoadFailed covers container read errors, decode errors, a bundle
	// without the requested asset, and asset type mismatches.
	LoadFailed
	// Other is everything else, such as an unknown handle.
	Other
)

func (c ErrorCode) String() string {
	switch c {
	case Success:
		return "success"
	case NotInited:
		return "not initialized"
	case InitFailed:
		return "initialization failed"
	case UnknownPath:
		return "unknown path"
	case BundleNotFound:
		return "bundle not found"
	case LoadFailed:
		return "load failed"
	case Other:
		return "other"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// Error is the error type returned by every cache operation.
//
// errors.Is matches an *Error target by code alone when the target
// carries no other fields, so callers can write
//
//	if errors.Is(err, bundlecache.ErrUnknownPath) { ... }
type Error struct {
	Code   ErrorCode
	Op     string
	Path   string
	Bundle string
	Err    error
}

// Sentinels for errors.Is.
var (
	ErrNotInited      = &Error{Code: NotInited}
	ErrInitFailed     = &Error{Code: InitFailed}
	ErrUnknownPath    = &Error{Code: UnknownPath}
	ErrBundleNotFound = &Error{Code: BundleNotFound}
	ErrLoadFailed     = &Error{Code: LoadFailed}
	ErrOther          = &Error{Code: Other}
)

func (e *Error) Error() string {
	var builder strings.Builder
	builder.WriteString("bundlecache: ")
	if e.Op != "" {
		builder.WriteString(e.Op)
		builder.WriteString(": ")
	}
	builder.WriteString(e.Code.String())
	if e.Path != "" {
		fmt.Fprintf(&builder, " (path %q)", e.Path)
	}
	if e.Bundle != "" {
		fmt.Fprintf(&builder, " (bundle %q)", e.Bundle)
	}
	if e.Err != nil {
		builder.WriteString(": ")
		builder.WriteString(e.Err.Error())
	}
	return builder.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a bare code sentinel with e's code.
func (e *Error) Is(target error) bool {
	sentinel, ok := target.(*Error)
	if !ok {
		return false
	}
	return sentinel.Code == e.Code && sentinel.Op == "" && sentinel.Path == "" &&
		sentinel.Bundle == "" && sentinel.Err == nil
}

// CodeOf returns the code of the first *Error in err's chain, Success
// for nil, and Other for errors from outside the cache.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var cacheError *Error
	if errors.As(err, &cacheError) {
		return cacheError.Code
	}
	return Other
}

// loadFailed wraps err as LoadFailed for bundle, keeping an existing
// cache error's code.
func loadFailed(bundle string, err error) *Error {
	var cacheError *Error
	if errors.As(err, &cacheError) {
		return cacheError
	}
	return &Error{Code: LoadFailed, Bundle: bundle, Err: err}
}
