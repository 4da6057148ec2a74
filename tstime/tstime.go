// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package tstime defines time utilities shared by the transport.
package tstime

import "time"

// Clock offers a subset of the functionality from the std/time package.
// Normally, applications will use the StdClock implementation that calls the
// appropriate std/time exported funcs. The advantage of using Clock is that
// tests can substitute a different implementation, allowing the test to
// control time precisely, something required for certain types of tests to be
// possible at all, speeds up execution by not needing to sleep, and can
// dramatically reduce the risk of flakes due to tests executing too slowly or
// quickly.
type Clock interface {
	// Now returns the current time, as in time.Now.
	Now() time.Time
	// Since returns the time elapsed since t, as in time.Since.
	Since(t time.Time) time.Duration
}

// StdClock is a simple implementation of Clock using the relevant funcs in the
// std/time package.
type StdClock struct{}

// Now calls time.Now.
func (StdClock) Now() time.Time {
	return time.Now()
}

// Since calls time.Since.
func (StdClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}
