// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package ames

import (
	"context"
	"fmt"

	"ames.network/kernel"
	"ames.network/net/packet"
	"ames.network/types/lane"
	"ames.network/types/nodeid"
	"github.com/fxamacker/cbor/v2"
)

// envelope is the structure of packet content: the lane the packet was
// last relayed from, if any, and the opaque message.
type envelope struct {
	_       struct{} `cbor:",toarray"`
	Origin  *lane.Lane
	Payload cbor.RawMessage
}

// pendingForward is a packet addressed to another node, waiting on the
// kernel for a route. It is owned by the query goroutine until handed
// back to the loop.
type pendingForward struct {
	header   packet.Header
	sender   nodeid.ID
	receiver nodeid.ID
	content  []byte

	from   lane.Lane // where the packet arrived from
	packet []byte    // the datagram as received
}

// routeQuery returns the kernel query for the route to id.
func routeQuery(id nodeid.ID) kernel.Query {
	return kernel.Query{Care: "ax", Path: []string{"peers", id.String(), "route"}}
}

// forward asks the kernel for a route to p's receiver and relays p there.
func (d *Driver) forward(p *packet.Parsed, from lane.Lane) {
	pf := pendingForward{
		header:   p.Header,
		sender:   p.Sender,
		receiver: p.Receiver,
		content:  p.Content(),
		from:     from,
		packet:   p.Buffer(),
	}
	q := routeQuery(pf.receiver)
	d.metrics.routeQueries.Inc()
	d.goAsync(func(ctx context.Context) {
		v, ok, err := d.kern.Peek(ctx, q)
		d.loop.Add(func() { d.routeDone(pf, v, ok, err) })
	})
}

// routeDone finishes a forward once the route query completes.
func (d *Driver) routeDone(pf pendingForward, v any, ok bool, err error) {
	if d.closing() {
		return
	}
	switch {
	case err != nil:
		d.logf("forward: route to %v: %v", pf.receiver, err)
		d.metrics.dropped.WithLabelValues(dropRouteError).Inc()
		return
	case !ok:
		if d.deliverUnroutable {
			d.deliver(pf.from, pf.packet)
			return
		}
		d.logf("forward: no route to %v, dropping packet from %v", pf.receiver, pf.sender)
		d.metrics.dropped.WithLabelValues(dropNoRoute).Inc()
		return
	}

	route, isLane := v.(lane.Lane)
	if !isLane {
		d.logf("forward: weird route %T for %v", v, pf.receiver)
		d.metrics.dropped.WithLabelValues(dropWeirdRoute).Inc()
		return
	}
	out, err := pf.reframe(route)
	if err != nil {
		d.dropf(dropMalformed, "forward: %v", err)
		return
	}
	d.metrics.forwarded.Inc()
	d.send(route, out)
}

// reframe rebuilds the packet with route recorded as its origin.
func (pf pendingForward) reframe(route lane.Lane) ([]byte, error) {
	var env envelope
	if err := cbor.Unmarshal(pf.content, &env); err != nil {
		return nil, fmt.Errorf("%w: content from %v: %v", packet.ErrMalformed, pf.sender, err)
	}
	env.Origin = &route
	content, err := cbor.Marshal(env)
	if err != nil {
		return nil, err
	}
	return packet.Generate(pf.header, pf.sender, pf.receiver, content), nil
}

// Envelope serializes payload as packet content with no origin lane, as
// sent by the node that first originates a message.
func Envelope(payload []byte) ([]byte, error) {
	raw, err := cbor.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(envelope{Payload: raw})
}

// OpenEnvelope decodes packet content into its origin lane, if any, and
// its payload.
func OpenEnvelope(content []byte) (origin *lane.Lane, payload []byte, err error) {
	var env envelope
	if err := cbor.Unmarshal(content, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", packet.ErrMalformed, err)
	}
	if err := cbor.Unmarshal(env.Payload, &payload); err != nil {
		return nil, nil, fmt.Errorf("%w: payload: %v", packet.ErrMalformed, err)
	}
	return env.Origin, payload, nil
}
