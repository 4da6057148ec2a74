// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package ames

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"ames.network/net/supernode"
	"ames.network/net/supernode/supernodetest"
	"ames.network/tstest"
	"ames.network/types/lane"
	qt "github.com/frankban/quicktest"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// fakeLookuper is a supernode.Lookuper that records the names it is
// asked for.
type fakeLookuper struct {
	mu    sync.Mutex
	names []string
	addrs []netip.Addr
	err   error
	block chan struct{} // if non-nil, lookups wait for it to close
}

func (l *fakeLookuper) LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error) {
	l.mu.Lock()
	l.names = append(l.names, host)
	addrs, err, block := l.addrs, l.err, l.block
	l.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return addrs, err
}

func (l *fakeLookuper) set(addrs []netip.Addr, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.addrs, l.err = addrs, err
}

func (l *fakeLookuper) lookups() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

func notFound(host string) error {
	return &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

// listener returns a loopback UDP socket and its lane.
func listener(t *testing.T) (*net.UDPConn, lane.Lane) {
	t.Helper()
	pc, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pc.Close() })
	l, ok := lane.FromAddrPort(pc.LocalAddr().(*net.UDPAddr).AddrPort())
	if !ok {
		t.Fatalf("no lane for %v", pc.LocalAddr())
	}
	return pc, l
}

func readOne(t *testing.T, pc *net.UDPConn) []byte {
	t.Helper()
	buf := make([]byte, maxDatagram)
	pc.SetReadDeadline(time.Now().Add(10 * time.Second))
	n, _, err := pc.ReadFromUDPAddrPort(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return buf[:n]
}

func TestSendDirect(t *testing.T) {
	c := qt.New(t)
	h := newHarness(t, Options{LocalOnly: true})
	h.start(t)
	pc, l := listener(t)

	h.d.Send(l, []byte("direct"))
	c.Assert(string(readOne(t, pc)), qt.Equals, "direct")
	waitFor(t, "sent metric", func() bool { return testutil.ToFloat64(h.d.metrics.sent) == 1 })
}

func TestSendUnspecifiedIsLoopback(t *testing.T) {
	c := qt.New(t)
	h := newHarness(t, Options{LocalOnly: true})
	h.start(t)
	pc, l := listener(t)

	h.d.Send(lane.Direct(0, l.Port()), []byte("zero"))
	c.Assert(string(readOne(t, pc)), qt.Equals, "zero")
}

func TestSendLocalOnlyDiscardsRemote(t *testing.T) {
	c := qt.New(t)
	h := newHarness(t, Options{LocalOnly: true})
	h.start(t)

	h.run(t, func() { h.d.send(lane.Direct(0x08080808, 80), []byte("nope")) })
	c.Assert(h.dropped(dropLocalOnly), qt.Equals, 1.0)
	c.Assert(testutil.ToFloat64(h.d.metrics.sent), qt.Equals, 0.0)
	c.Assert(testutil.ToFloat64(h.d.metrics.sendErrors), qt.Equals, 0.0)
}

func TestSendNotLive(t *testing.T) {
	c := qt.New(t)
	h := newHarness(t, Options{LocalOnly: true})
	h.run(t, func() { h.d.send(lane.Direct(0x7f000001, 80), []byte("early")) })
	c.Assert(h.dropped(dropNotLive), qt.Equals, 1.0)
	c.Assert(h.logs.has("not live"), qt.IsTrue)
}

func TestSendSupernodeLocalOnly(t *testing.T) {
	c := qt.New(t)
	lk := &fakeLookuper{}
	h := newHarness(t, Options{LocalOnly: true, Lookuper: lk, Domains: []string{"example.org"}})
	h.start(t)

	h.run(t, func() { h.d.send(lane.Supernode(5), []byte("czar")) })
	c.Assert(testutil.ToFloat64(h.d.metrics.sent), qt.Equals, 1.0)
	c.Assert(lk.lookups(), qt.HasLen, 0)
}

func TestSendSupernodeNoDomain(t *testing.T) {
	c := qt.New(t)
	lk := &fakeLookuper{}
	h := newHarness(t, Options{ListenPacket: loopbackListen, Lookuper: lk})
	h.start(t)

	h.run(t, func() { h.d.send(lane.Supernode(5), []byte("czar")) })
	c.Assert(h.dropped(dropNoDomain), qt.Equals, 1.0)
	c.Assert(h.logs.has("no supernode domain for ~per, no-op"), qt.IsTrue)
	c.Assert(lk.lookups(), qt.HasLen, 0)
}

func TestSendSupernodeResolvesOnce(t *testing.T) {
	c := qt.New(t)
	lk := &fakeLookuper{addrs: []netip.Addr{netip.MustParseAddr("127.0.0.1")}}
	h := newHarness(t, Options{
		ListenPacket: loopbackListen,
		Lookuper:     lk,
		Domains:      []string{"example.org."},
		Clock:        tstest.NewClock(tstest.ClockOpts{}),
	})
	h.start(t)

	h.run(t, func() { h.d.send(lane.Supernode(5), []byte("one")) })
	waitFor(t, "first send", func() bool { return testutil.ToFloat64(h.d.metrics.sent) == 1 })
	c.Assert(lk.lookups(), qt.DeepEquals, []string{"per.example.org"})
	c.Assert(h.logs.has("czar per.example.org: ip 127.0.0.1"), qt.IsTrue)
	c.Assert(testutil.ToFloat64(h.d.metrics.dnsLookups.WithLabelValues("ok")), qt.Equals, 1.0)

	// Cached: sent synchronously without another lookup.
	h.run(t, func() { h.d.send(lane.Supernode(5), []byte("two")) })
	c.Assert(testutil.ToFloat64(h.d.metrics.sent), qt.Equals, 2.0)
	c.Assert(lk.lookups(), qt.HasLen, 1)

	entry := h.d.cache.Entry(5)
	c.Assert(entry.Status, qt.Equals, supernode.StatusFound)
}

func TestSendSupernodeBackoff(t *testing.T) {
	c := qt.New(t)
	clock := tstest.NewClock(tstest.ClockOpts{})
	lk := &fakeLookuper{err: notFound("per.example.org")}
	h := newHarness(t, Options{
		ListenPacket: loopbackListen,
		Lookuper:     lk,
		Domains:      []string{"example.org"},
		Clock:        clock,
	})
	h.start(t)
	send := func() { h.run(t, func() { h.d.send(lane.Supernode(5), []byte("x")) }) }

	send()
	waitFor(t, "failed lookup", func() bool { return h.dropped(dropResolveError) == 1 })
	c.Assert(testutil.ToFloat64(h.d.metrics.dnsLookups.WithLabelValues("not-found")), qt.Equals, 1.0)

	// Within the TTL a failed entry fails fast.
	clock.Advance(supernode.TTL - time.Second)
	send()
	c.Assert(lk.lookups(), qt.HasLen, 1)
	c.Assert(h.dropped(dropBackoff), qt.Equals, 1.0)

	// After it, the name is looked up again, and succeeds.
	clock.Advance(2 * time.Second)
	lk.set([]netip.Addr{netip.MustParseAddr("127.0.0.1")}, nil)
	send()
	waitFor(t, "second lookup", func() bool { return testutil.ToFloat64(h.d.metrics.sent) == 1 })
	c.Assert(lk.lookups(), qt.HasLen, 2)

	// Losing a resolved name logs once.
	clock.Advance(supernode.TTL + time.Second)
	lk.set(nil, errors.New("server misbehaving"))
	send()
	waitFor(t, "third lookup", func() bool { return h.dropped(dropResolveError) == 2 })
	c.Assert(h.logs.count("czar at per.example.org: not found (b)"), qt.Equals, 1)
	c.Assert(testutil.ToFloat64(h.d.metrics.dnsLookups.WithLabelValues("error")), qt.Equals, 1.0)

	// The last known address is kept and trusted for another TTL.
	send()
	c.Assert(lk.lookups(), qt.HasLen, 3)
	c.Assert(testutil.ToFloat64(h.d.metrics.sent), qt.Equals, 2.0)
	c.Assert(h.dropped(dropBackoff), qt.Equals, 1.0)
}

func TestSendSupernodeDNSServer(t *testing.T) {
	c := qt.New(t)
	srv := supernodetest.NewDNSServer(t, map[string]netip.Addr{
		"per.example.org": netip.MustParseAddr("127.0.0.1"),
	})
	h := newHarness(t, Options{
		ListenPacket: loopbackListen,
		Lookuper:     &supernode.DNSLookuper{Server: srv.Addr(), Timeout: 5 * time.Second, Logf: t.Logf},
		Domains:      []string{"example.org"},
	})
	h.start(t)

	h.d.Send(lane.Supernode(5), []byte("hello czar"))
	waitFor(t, "send", func() bool { return testutil.ToFloat64(h.d.metrics.sent) == 1 })
	c.Assert(srv.Queries(), qt.DeepEquals, []string{"per.example.org"})
}

func TestCloseDiscardsPendingLookup(t *testing.T) {
	c := qt.New(t)
	lk := &fakeLookuper{
		addrs: []netip.Addr{netip.MustParseAddr("127.0.0.1")},
		block: make(chan struct{}),
	}
	h := newHarness(t, Options{ListenPacket: loopbackListen, Lookuper: lk, Domains: []string{"example.org"}})
	h.start(t)

	h.d.Send(lane.Supernode(5), []byte("x"))
	waitFor(t, "lookup started", func() bool { return len(lk.lookups()) == 1 })
	c.Assert(h.d.Close(), qt.IsNil)
	c.Assert(testutil.ToFloat64(h.d.metrics.sent), qt.Equals, 0.0)
	c.Assert(h.d.cache.Entry(5).Status, qt.Equals, supernode.StatusUnknown)
}
