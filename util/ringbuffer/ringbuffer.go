// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package ringbuffer provides a generic growable ring buffer used as a FIFO
// deque.
package ringbuffer

import "iter"

const initialSize = 16

// RingBuffer is a generic circular buffer that grows when full.
// Push appends at the back and Pop removes from the front, both in O(1).
// The zero value is an empty buffer ready for use.
//
// It is not safe for concurrent use.
type RingBuffer[T any] struct {
	buf   []T
	head  int // index of the first element
	count int // number of elements in the buffer
}

// Push adds an element at the back of the ring buffer. If the buffer is
// full, it grows.
func (rb *RingBuffer[T]) Push(item T) {
	if rb.count == len(rb.buf) {
		rb.grow()
	}
	rb.buf[rb.index(rb.count)] = item
	rb.count++
}

// Pop removes and returns the oldest element from the ring buffer.
// Returns the zero value and false if the buffer is empty.
func (rb *RingBuffer[T]) Pop() (T, bool) {
	var zero T
	if rb.count == 0 {
		return zero, false
	}
	item := rb.buf[rb.head]
	rb.buf[rb.head] = zero // clear reference for GC
	rb.head = (rb.head + 1) % len(rb.buf)
	rb.count--
	return item, true
}

// RemoveFirstFunc removes and returns the oldest element for which match
// returns true. The relative order of the remaining elements is preserved.
// Removing the front element is O(1); otherwise the cost is proportional to
// the element's distance from the front.
func (rb *RingBuffer[T]) RemoveFirstFunc(match func(T) bool) (T, bool) {
	for i := range rb.count {
		if !match(rb.buf[rb.index(i)]) {
			continue
		}
		item := rb.buf[rb.index(i)]
		for j := i; j > 0; j-- {
			rb.buf[rb.index(j)] = rb.buf[rb.index(j-1)]
		}
		rb.Pop()
		return item, true
	}
	var zero T
	return zero, false
}

// All returns an iterator over the elements from oldest to newest.
// The buffer must not be modified during iteration.
func (rb *RingBuffer[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for i := range rb.count {
			if !yield(rb.buf[rb.index(i)]) {
				return
			}
		}
	}
}

// Len returns the number of elements in the buffer.
func (rb *RingBuffer[T]) Len() int {
	return rb.count
}

// index maps the logical position i (0 is the front) to a slot in buf.
func (rb *RingBuffer[T]) index(i int) int {
	return (rb.head + i) % len(rb.buf)
}

// grow doubles the capacity of the ring buffer, unwrapping its contents so
// the front is at slot 0.
func (rb *RingBuffer[T]) grow() {
	newSize := len(rb.buf) * 2
	if newSize == 0 {
		newSize = initialSize
	}
	newBuf := make([]T, newSize)
	if rb.count > 0 {
		n := copy(newBuf, rb.buf[rb.head:])
		if n < rb.count {
			copy(newBuf[n:], rb.buf[:rb.head])
		}
	}
	rb.buf = newBuf
	rb.head = 0
}
