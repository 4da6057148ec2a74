// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package tstest provides utilities for use in unit tests.
package tstest

import (
	"sync"
	"time"
)

// ClockOpts is used to configure the initial settings for a Clock. Once the
// settings are configured as desired, call NewClock to get the resulting Clock.
type ClockOpts struct {
	// Start is the starting time for the Clock. It is also the value that
	// will be returned by the first call to Clock.Now. If you are passing a
	// value here, set an explicit timezone. The default time is in UTC.
	Start time.Time

	// Step is the amount of time the Clock will advance whenever Clock.Now is
	// called. If set to zero, the Clock will only advance when Clock.Advance is
	// called.
	Step time.Duration
}

// NewClock creates a Clock with the specified settings. To create a
// Clock with only the default settings, new(Clock) is equivalent, except that
// the start time will not be computed until one of the receivers is called.
func NewClock(co ClockOpts) *Clock {
	return &Clock{
		start:   co.Start,
		present: co.Start,
		step:    co.Step,
	}
}

// Clock is a testing clock that advances every time its Now method is
// called, beginning at its start time. If no start time is specified, an
// arbitrary start time will be selected when the Clock is first used.
//
// Clock is safe for concurrent use, so a test may advance time while the
// code under test reads it from another goroutine.
type Clock struct {
	mu      sync.Mutex
	start   time.Time
	present time.Time
	step    time.Duration
}

func (c *Clock) initLocked() {
	if c.start.IsZero() {
		c.start = time.Unix(1_700_000_000, 0).UTC()
		c.present = c.start
	}
}

// Now returns the virtual clock's current time, and advances it
// according to its step configuration.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initLocked()
	ret := c.present
	c.present = c.present.Add(c.step)
	return ret
}

// PeekNow returns the time the next call to Now will return, without
// advancing the clock.
func (c *Clock) PeekNow() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initLocked()
	return c.present
}

// Advance moves simulated time forward or backwards by a relative amount.
// It returns the new simulated time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initLocked()
	c.present = c.present.Add(d)
	return c.present
}

// GetStart returns the initial simulated time when this Clock was created.
func (c *Clock) GetStart() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initLocked()
	return c.start
}

// Since subtracts t from the current simulated time without advancing it.
func (c *Clock) Since(t time.Time) time.Duration {
	return c.PeekNow().Sub(t)
}
