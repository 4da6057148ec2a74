// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package ames_test

import (
	"context"
	"testing"
	"time"

	"ames.network/ames"
	"ames.network/ames/memkernel"
	"ames.network/kernel"
	"ames.network/net/packet"
	"ames.network/types/lane"
	"ames.network/types/logger"
	"ames.network/types/nodeid"
	qt "github.com/frankban/quicktest"
)

type heard struct {
	from    lane.Lane
	sender  nodeid.ID
	origin  *lane.Lane
	payload string
}

type node struct {
	id    nodeid.ID
	d     *ames.Driver
	k     *memkernel.Kernel
	heard chan heard
}

func (n *node) lane() lane.Lane { return lane.Direct(0x7f000001, n.d.Port()) }

func newNode(t *testing.T, id nodeid.ID) *node {
	t.Helper()
	n := &node{id: id, heard: make(chan heard, 16)}
	logf := logger.WithPrefix(t.Logf, id.String()+": ")
	n.k = memkernel.New(memkernel.Options{
		Logf:       logf,
		HasVersion: true,
		Apply:      func(ef kernel.Effect) bool { return n.d.ApplyEffect(ef) },
		OnHear: func(from lane.Lane, p *packet.Parsed) {
			origin, payload, err := ames.OpenEnvelope(p.Content())
			if err != nil {
				t.Errorf("%v: %v", id, err)
				return
			}
			n.heard <- heard{from, p.Sender, origin, string(payload)}
		},
	})
	d, err := ames.NewDriver(ames.Options{
		Logf:      logf,
		Identity:  id,
		LocalOnly: true,
		Kernel:    n.k,
	})
	if err != nil {
		t.Fatal(err)
	}
	n.d = d

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.k.Run(ctx, d.Queue())
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	t.Cleanup(func() { d.Close() })

	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	return n
}

func (n *node) send(t *testing.T, to nodeid.ID, via lane.Lane, msg string) {
	t.Helper()
	content, err := ames.Envelope([]byte(msg))
	if err != nil {
		t.Fatal(err)
	}
	if err := n.k.Send(via, packet.Generate(packet.Header{}, n.id, to, content)); err != nil {
		t.Fatal(err)
	}
}

func (n *node) next(t *testing.T) heard {
	t.Helper()
	select {
	case h := <-n.heard:
		return h
	case <-time.After(10 * time.Second):
		t.Fatalf("%v heard nothing", n.id)
		panic("unreachable")
	}
}

func TestNodesExchangeAndRelay(t *testing.T) {
	c := qt.New(t)
	a := newNode(t, nodeid.ID{Lo: 0x1000})
	b := newNode(t, nodeid.ID{Lo: 0x2000})
	relay := newNode(t, nodeid.ID{Hi: 1, Lo: 0x3000})

	a.send(t, b.id, b.lane(), "hello b")
	got := b.next(t)
	c.Assert(got.sender, qt.Equals, a.id)
	c.Assert(got.payload, qt.Equals, "hello b")
	c.Assert(got.origin, qt.IsNil)
	c.Assert(got.from.Equal(a.lane()), qt.IsTrue)

	// b learned where a is and can answer.
	route, ok := b.k.Route(a.id)
	c.Assert(ok, qt.IsTrue)
	c.Assert(route.Equal(a.lane()), qt.IsTrue)
	b.send(t, a.id, route, "hello a")
	c.Assert(a.next(t).payload, qt.Equals, "hello a")

	// A packet for b sent to the relay is passed on with the relay's
	// route recorded as its origin.
	relay.k.SetRoute(b.id, b.lane())
	a.send(t, b.id, relay.lane(), "via relay")
	got = b.next(t)
	c.Assert(got.sender, qt.Equals, a.id)
	c.Assert(got.payload, qt.Equals, "via relay")
	c.Assert(got.from.Equal(relay.lane()), qt.IsTrue)
	c.Assert(got.origin, qt.IsNotNil)
	c.Assert(got.origin.Equal(b.lane()), qt.IsTrue)
	c.Assert(relay.k.Heard(), qt.Equals, uint64(0))

	// With no route, the relay drops the packet.
	a.send(t, nodeid.ID{Hi: 7, Lo: 7}, relay.lane(), "lost")
	select {
	case h := <-b.heard:
		t.Fatalf("b heard %+v", h)
	case <-time.After(200 * time.Millisecond):
	}
}
