// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for bundlecache packages.
//
// [RequireReceive] and [RequireClosed] encapsulate the timeout safety
// valve pattern (select with time.After fallback) so that tests waiting
// on pool workers and futures do not need direct time.After calls.
// They are the only place in the test suite where real wall-clock
// timeouts are used; idle-threshold timing goes through clock.Fake.
//
// [WriteFile] writes a fixture file under a test's temporary directory.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
