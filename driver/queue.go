// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package driver

import (
	"context"
	"slices"
	"sync"

	"ames.network/kernel"
	"ames.network/util/ringbuffer"
)

// Queue is the FIFO of events planned by drivers and not yet consumed by
// the kernel. It is safe for concurrent use.
type Queue struct {
	mu     sync.Mutex
	events ringbuffer.RingBuffer[kernel.Event]
	ready  chan struct{} // buffered(1); signaled when events becomes non-empty
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Plan appends ev to the back of the queue.
func (q *Queue) Plan(ev kernel.Event) {
	q.mu.Lock()
	q.events.Push(ev)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Depth returns the number of pending events.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.events.Len()
}

// DropOldestMatching removes the oldest pending event for which match
// returns true. It reports whether an event was removed.
func (q *Queue) DropOldestMatching(match func(kernel.Event) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.events.RemoveFirstFunc(match)
	return ok
}

// TryNext removes and returns the oldest pending event, if any.
func (q *Queue) TryNext() (kernel.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.events.Pop()
}

// Next removes and returns the oldest pending event, waiting for one to be
// planned if the queue is empty.
func (q *Queue) Next(ctx context.Context) (kernel.Event, error) {
	for {
		if ev, ok := q.TryNext(); ok {
			return ev, nil
		}
		select {
		case <-q.ready:
		case <-ctx.Done():
			return kernel.Event{}, ctx.Err()
		}
	}
}

// Snapshot returns the pending events, oldest first, without removing
// them.
func (q *Queue) Snapshot() []kernel.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Collect(q.events.All())
}
