// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package ames

import (
	"context"
	"net"
	"net/netip"

	"ames.network/net/supernode"
	"ames.network/types/lane"
	"ames.network/types/nodeid"
)

var loopback = netip.AddrFrom4([4]byte{127, 0, 0, 1})

// Send asynchronously sends the framed packet b to l. Sends before the
// driver is live, to unresolvable supernodes, or that fail on the socket
// are logged and discarded.
func (d *Driver) Send(l lane.Lane, b []byte) {
	d.loop.Add(func() { d.send(l, b) })
}

func (d *Driver) send(l lane.Lane, b []byte) {
	if d.State() != StateLive {
		d.metrics.dropped.WithLabelValues(dropNotLive).Inc()
		d.logf("send: not live, dropping %d bytes to %v", len(b), l)
		return
	}
	if n, ok := l.SupernodeNum(); ok {
		d.sendSupernode(n, b)
		return
	}
	ap, _ := l.AddrPort()
	ip := ap.Addr()
	if ip.IsUnspecified() {
		ip = loopback
	}
	if d.localOnly && ip != loopback {
		d.dropf(dropLocalOnly, "send: local only, not sending to %v", ip)
		return
	}
	d.writeTo(b, netip.AddrPortFrom(ip, ap.Port()))
}

// pendingSend is a send to a supernode waiting on DNS. It is owned by
// the lookup goroutine until handed back to the loop.
type pendingSend struct {
	num    uint8
	fqdn   string
	port   uint16
	packet []byte
}

func (d *Driver) sendSupernode(n uint8, b []byte) {
	port := supernode.Port(n, d.localOnly)
	if d.localOnly {
		d.writeTo(b, netip.AddrPortFrom(loopback, port))
		return
	}
	if d.domain == "" {
		d.logf("no supernode domain for %v, no-op", nodeid.FromSupernode(n))
		d.metrics.dropped.WithLabelValues(dropNoDomain).Inc()
		return
	}

	act, ip := d.cache.Decide(n, d.clock.Now())
	switch act {
	case supernode.FailFast:
		d.dropf(dropBackoff, "send: %v unresolved, backing off", nodeid.FromSupernode(n))
	case supernode.UseCached:
		d.writeTo(b, netip.AddrPortFrom(ip, port))
	case supernode.Lookup:
		ps := pendingSend{
			num:    n,
			fqdn:   supernode.FQDN(n, d.domain),
			port:   port,
			packet: b,
		}
		d.goAsync(func(ctx context.Context) {
			addrs, err := d.lookup.LookupNetIP(ctx, "ip4", ps.fqdn)
			d.loop.Add(func() { d.resolveDone(ps, addrs, err) })
		})
	}
}

// resolveDone finishes a supernode send once its lookup completes.
func (d *Driver) resolveDone(ps pendingSend, addrs []netip.Addr, err error) {
	if d.closing() {
		return
	}
	now := d.clock.Now()
	ip, ok := supernode.FirstIPv4(addrs)
	if err != nil || !ok {
		result := "error"
		if err == nil || supernode.IsNotFound(err) {
			result = "not-found"
		}
		d.metrics.dnsLookups.WithLabelValues(result).Inc()
		if d.cache.Failed(ps.num, now) {
			d.logf("czar at %s: not found (b)", ps.fqdn)
		}
		if err != nil && debugVerbose() {
			d.logf("czar at %s: %v", ps.fqdn, err)
		}
		d.metrics.dropped.WithLabelValues(dropResolveError).Inc()
		return
	}

	d.metrics.dnsLookups.WithLabelValues("ok").Inc()
	old, changed := d.cache.Resolved(ps.num, ip, now)
	if changed {
		if was, ok := (supernode.Entry{IP: old}).Addr(); ok {
			d.logf("czar %s: ip %v (was %v)", ps.fqdn, ip, was)
		} else {
			d.logf("czar %s: ip %v", ps.fqdn, ip)
		}
	}
	d.writeTo(ps.packet, netip.AddrPortFrom(ip, ps.port))
}

func (d *Driver) writeTo(b []byte, dst netip.AddrPort) {
	if _, err := d.pconn.WriteTo(b, net.UDPAddrFromAddrPort(dst)); err != nil {
		d.metrics.sendErrors.Inc()
		d.logf("send: %v", err)
		return
	}
	d.metrics.sent.Inc()
}

// dropf counts a dropped packet and, with verbose debugging on, logs
// why.
func (d *Driver) dropf(reason, format string, args ...any) {
	d.metrics.dropped.WithLabelValues(reason).Inc()
	if debugVerbose() {
		d.logf(format, args...)
	}
}
