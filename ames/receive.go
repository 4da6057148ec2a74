// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package ames

import (
	"bytes"
	"errors"
	"net"
	"net/netip"

	"ames.network/kernel"
	"ames.network/net/packet"
	"ames.network/types/lane"
)

// maxDatagram is the largest UDP payload.
const maxDatagram = 1<<16 - 1

// receiveLoop reads datagrams from pc and hands each to the loop until pc
// is closed.
func (d *Driver) receiveLoop(pc net.PacketConn) {
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || d.ctx.Err() != nil {
				return
			}
			d.logf("recv: %v", err)
			continue
		}
		ua, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		b := bytes.Clone(buf[:n])
		src := ua.AddrPort()
		d.loop.Add(func() { d.receive(b, src) })
	}
}

// receive validates the datagram b from src and either delivers it to the
// kernel or, if it is addressed to another node, forwards it.
func (d *Driver) receive(b []byte, src netip.AddrPort) {
	if d.State() != StateLive {
		return
	}
	d.metrics.received.Inc()

	if len(b) <= packet.HeaderLen {
		d.dropf(dropShort, "recv: %d-byte datagram from %v", len(b), src)
		return
	}
	if d.versionKnown && !debugNoVersionFilter() {
		if v := packet.VersionOf(b); v != d.wireVersion {
			d.dropf(dropVersion, "recv: version %d from %v, want %d", v, src, d.wireVersion)
			return
		}
	}

	var p packet.Parsed
	if err := p.Decode(b); err != nil {
		reason := dropMalformed
		if errors.Is(err, packet.ErrHashMismatch) {
			reason = dropHash
		}
		d.dropf(reason, "recv: from %v: %v", src, err)
		return
	}

	from, ok := lane.FromAddrPort(src)
	if !ok {
		d.dropf(dropNotIPv4, "recv: non-IPv4 source %v", src)
		return
	}

	if p.Receiver != d.id {
		d.forward(&p, from)
		return
	}
	d.deliver(from, b)
}

// deliver plans a hear event for the datagram b received from l.
func (d *Driver) deliver(l lane.Lane, b []byte) {
	d.metrics.delivered.Inc()
	d.gov.Plan(kernel.Event{
		Wire: kernel.Wire{"ames"},
		Card: kernel.HearCard{Lane: l, Packet: b},
	})
}
