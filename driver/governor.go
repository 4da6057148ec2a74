// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package driver

import (
	"sync/atomic"

	"ames.network/kernel"
	"ames.network/types/logger"
)

// DefaultMaxPending is the default cap on queue depth enforced by a
// Governor.
const DefaultMaxPending = 1000

// dropLogInterval is how many drops pass between log lines.
const dropLogInterval = 1000

// Governor plans events on a Queue while keeping its depth at or below
// a cap. When the cap is exceeded, the oldest pending inbound deliveries
// (hear events) are dropped; other events are never dropped.
type Governor struct {
	q       *Queue
	max     int
	logf    logger.Logf
	onDrop  func()
	dropped atomic.Uint64
}

// NewGovernor returns a Governor for q. max <= 0 means
// DefaultMaxPending. onDrop, if non-nil, is called once per dropped event.
func NewGovernor(q *Queue, max int, logf logger.Logf, onDrop func()) *Governor {
	if max <= 0 {
		max = DefaultMaxPending
	}
	if logf == nil {
		logf = logger.Discard
	}
	return &Governor{q: q, max: max, logf: logf, onDrop: onDrop}
}

// Queue returns the governed queue.
func (g *Governor) Queue() *Queue { return g.q }

// Plan appends ev to the queue and then evicts old deliveries until the
// queue is back under the cap. It returns the number of events evicted.
func (g *Governor) Plan(ev kernel.Event) (evicted int) {
	g.q.Plan(ev)
	for g.q.Depth() > g.max {
		if !g.q.DropOldestMatching(kernel.Event.IsHear) {
			// Only non-delivery events remain; they are not ours to drop.
			break
		}
		evicted++
		if g.onDrop != nil {
			g.onDrop()
		}
		if n := g.dropped.Add(1); n%dropLogInterval == 0 {
			g.logf("queue: dropped %d packets", n)
		}
	}
	return evicted
}

// Dropped returns the number of events evicted so far.
func (g *Governor) Dropped() uint64 {
	return g.dropped.Load()
}
