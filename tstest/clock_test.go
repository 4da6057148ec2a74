// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package tstest

import (
	"testing"
	"time"

	"ames.network/tstime"
)

var _ tstime.Clock = (*Clock)(nil)

func TestClockStep(t *testing.T) {
	start := time.Unix(12345, 0).UTC()
	c := NewClock(ClockOpts{Start: start, Step: time.Second})

	for i := range 3 {
		want := start.Add(time.Duration(i) * time.Second)
		if got := c.Now(); !got.Equal(want) {
			t.Errorf("Now #%d = %v; want %v", i, got, want)
		}
	}
	if got, want := c.GetStart(), start; !got.Equal(want) {
		t.Errorf("GetStart = %v; want %v", got, want)
	}
}

func TestClockAdvance(t *testing.T) {
	start := time.Unix(12345, 0).UTC()
	c := NewClock(ClockOpts{Start: start})

	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("Now = %v; want %v", got, start)
	}
	c.Advance(5 * time.Minute)
	if got, want := c.Since(start), 5*time.Minute; got != want {
		t.Errorf("Since = %v; want %v", got, want)
	}
	if got := c.Now(); !got.Equal(start.Add(5 * time.Minute)) {
		t.Errorf("Now after Advance = %v", got)
	}
}

func TestClockZeroValue(t *testing.T) {
	var c Clock
	first := c.Now()
	if first.IsZero() {
		t.Fatal("zero Clock returned zero time")
	}
	if second := c.Now(); !second.Equal(first) {
		t.Errorf("zero-step Clock advanced: %v -> %v", first, second)
	}
}
