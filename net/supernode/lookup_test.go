// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package supernode

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"ames.network/net/supernode/supernodetest"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/miekg/dns"
)

func TestDNSLookuper(t *testing.T) {
	srv := supernodetest.NewDNSServer(t, map[string]netip.Addr{
		"per.example.org": netip.MustParseAddr("192.0.2.5"),
	})
	l := &DNSLookuper{Server: srv.Addr(), Timeout: 2 * time.Second, Logf: t.Logf}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addrs, err := l.LookupNetIP(ctx, "ip4", FQDN(5, "example.org"))
	if err != nil {
		t.Fatalf("LookupNetIP: %v", err)
	}
	want := []netip.Addr{netip.MustParseAddr("192.0.2.5")}
	if diff := cmp.Diff(want, addrs, cmpopts.EquateComparable(netip.Addr{})); diff != "" {
		t.Errorf("addrs mismatch (-want +got):\n%s", diff)
	}

	_, err = l.LookupNetIP(ctx, "ip4", "zod.example.org")
	if !IsNotFound(err) {
		t.Errorf("missing name: err = %v; want not-found", err)
	}

	if diff := cmp.Diff([]string{"per.example.org", "zod.example.org"}, srv.Queries()); diff != "" {
		t.Errorf("queries mismatch (-want +got):\n%s", diff)
	}
}

func TestDNSLookuperUnsupportedNetwork(t *testing.T) {
	l := &DNSLookuper{}
	if _, err := l.LookupNetIP(context.Background(), "tcp", "x"); err == nil {
		t.Error("want error for network tcp")
	}
}

func TestDNSLookuperTruncatedRetriesTCP(t *testing.T) {
	var networks []string
	l := &DNSLookuper{
		testExchangeHook: func(network string, m *dns.Msg) (*dns.Msg, error) {
			networks = append(networks, network)
			resp := new(dns.Msg)
			resp.SetReply(m)
			if network == "udp" {
				resp.Truncated = true
				return resp, nil
			}
			resp.Answer = append(resp.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: m.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET},
				A:   net.IPv4(198, 51, 100, 7),
			})
			return resp, nil
		},
	}
	addrs, err := l.LookupNetIP(context.Background(), "ip4", "nec.example.org")
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 1 || addrs[0] != netip.MustParseAddr("198.51.100.7") {
		t.Errorf("addrs = %v", addrs)
	}
	if diff := cmp.Diff([]string{"udp", "tcp"}, networks); diff != "" {
		t.Errorf("networks mismatch (-want +got):\n%s", diff)
	}
}

func TestDNSLookuperServerFailure(t *testing.T) {
	exchangeErr := errors.New("boom")
	l := &DNSLookuper{
		testExchangeHook: func(string, *dns.Msg) (*dns.Msg, error) { return nil, exchangeErr },
	}
	if _, err := l.LookupNetIP(context.Background(), "ip", "x.example"); !errors.Is(err, exchangeErr) {
		t.Errorf("err = %v; want %v", err, exchangeErr)
	}

	l.testExchangeHook = func(_ string, m *dns.Msg) (*dns.Msg, error) {
		resp := new(dns.Msg)
		resp.SetRcode(m, dns.RcodeServerFailure)
		return resp, nil
	}
	_, err := l.LookupNetIP(context.Background(), "ip4", "x.example")
	var de *net.DNSError
	if !errors.As(err, &de) || de.IsNotFound {
		t.Errorf("SERVFAIL err = %#v; want transient DNSError", err)
	}
}

func TestFirstIPv4(t *testing.T) {
	addrs := []netip.Addr{
		netip.MustParseAddr("2001:db8::1"),
		netip.MustParseAddr("::ffff:10.0.0.1"),
		netip.MustParseAddr("10.0.0.2"),
	}
	got, ok := FirstIPv4(addrs)
	if !ok || got != netip.MustParseAddr("10.0.0.1") {
		t.Errorf("FirstIPv4 = %v, %v", got, ok)
	}
	if _, ok := FirstIPv4(addrs[:1]); ok {
		t.Error("FirstIPv4 found an address in a v6-only list")
	}
}
