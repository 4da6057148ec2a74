// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package kernel defines the boundary between I/O drivers and the node's
// event-processing kernel: the events drivers submit, the effects the
// kernel asks drivers to perform, and read-only queries.
package kernel

import (
	"context"
	"fmt"
	"strings"

	"ames.network/types/lane"
)

// Wire identifies the origin of an event, or the destination of an
// effect, as a path such as ["ames"] or ["newt", "1f2e"].
type Wire []string

// Head returns the first element of w, or "" if w is empty.
func (w Wire) Head() string {
	if len(w) == 0 {
		return ""
	}
	return w[0]
}

func (w Wire) String() string {
	return "/" + strings.Join(w, "/")
}

// Query is a read-only request for derived kernel state.
type Query struct {
	Care string   // kind of read, such as "ax"
	Path []string // such as ["peers", "~zod", "route"]
}

func (q Query) String() string {
	return q.Care + " /" + strings.Join(q.Path, "/")
}

// Peeker answers read-only queries.
type Peeker interface {
	// Peek answers q. ok is false if the kernel has no value at that
	// path. Peek may block; callers run it off their event loop.
	Peek(ctx context.Context, q Query) (value any, ok bool, err error)
}

// PeekFunc is an adapter to allow the use of ordinary functions as
// Peekers.
type PeekFunc func(ctx context.Context, q Query) (any, bool, error)

// Peek calls f(ctx, q).
func (f PeekFunc) Peek(ctx context.Context, q Query) (any, bool, error) {
	return f(ctx, q)
}

// Card is the payload of an Event. The set of cards is closed: HearCard
// and BornCard.
type Card interface {
	Tag() string
	isEventCard()
}

// HearCard delivers a received datagram to the kernel.
type HearCard struct {
	Lane   lane.Lane // where the datagram came from
	Packet []byte    // the whole datagram, header included
}

// BornCard announces that a driver has started.
type BornCard struct{}

func (HearCard) Tag() string { return "hear" }
func (BornCard) Tag() string { return "born" }

func (HearCard) isEventCard() {}
func (BornCard) isEventCard() {}

// Event is a unit of input to the kernel.
type Event struct {
	Wire Wire
	Card Card
}

// IsHear reports whether e delivers a received datagram.
func (e Event) IsHear() bool {
	_, ok := e.Card.(HearCard)
	return ok
}

func (e Event) String() string {
	if e.Card == nil {
		return fmt.Sprintf("%v <nil>", e.Wire)
	}
	return fmt.Sprintf("%v %s", e.Wire, e.Card.Tag())
}

// EffectCard is the payload of an Effect. The known cards are SendCard,
// TurfCard and InitCard; anything else arrives as an UnknownCard.
type EffectCard interface {
	Tag() string
	isEffectCard()
}

// SendCard asks the driver to send a packet.
type SendCard struct {
	Lane   lane.Lane
	Packet []byte
}

// TurfCard configures the DNS domains under which supernodes are
// published. Each domain is a dotted name such as "urbit.org".
type TurfCard struct {
	Domains []string
}

// InitCard acknowledges driver initialization.
type InitCard struct{}

// UnknownCard is an effect the kernel emitted that this package has no
// type for.
type UnknownCard struct {
	Name string
	Data []byte
}

func (SendCard) Tag() string      { return "send" }
func (TurfCard) Tag() string      { return "turf" }
func (InitCard) Tag() string      { return "init" }
func (c UnknownCard) Tag() string { return c.Name }

func (SendCard) isEffectCard()    {}
func (TurfCard) isEffectCard()    {}
func (InitCard) isEffectCard()    {}
func (UnknownCard) isEffectCard() {}

// Effect is a unit of output from the kernel, routed to a driver by wire.
type Effect struct {
	Wire Wire
	Card EffectCard
}

func (ef Effect) String() string {
	if ef.Card == nil {
		return fmt.Sprintf("%v <nil>", ef.Wire)
	}
	return fmt.Sprintf("%v %s", ef.Wire, ef.Card.Tag())
}
