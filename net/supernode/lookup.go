// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package supernode

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"ames.network/types/logger"
	"github.com/miekg/dns"
)

// Lookuper resolves host names. *net.Resolver implements it.
type Lookuper interface {
	// LookupNetIP looks up host, returning zero or more addresses. network
	// is "ip", "ip4" or "ip6".
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

var _ Lookuper = (*net.Resolver)(nil)

// FirstIPv4 returns the first IPv4 address of addrs.
func FirstIPv4(addrs []netip.Addr) (netip.Addr, bool) {
	for _, a := range addrs {
		if a = a.Unmap(); a.Is4() {
			return a, true
		}
	}
	return netip.Addr{}, false
}

// DNSLookuper is a Lookuper that queries one nameserver directly instead
// of going through the system resolver.
type DNSLookuper struct {
	// Server is the nameserver to query.
	Server netip.AddrPort

	// Timeout bounds each exchange. If zero, 5 seconds is used.
	Timeout time.Duration

	// Logf, if non-nil, logs each query.
	Logf logger.Logf

	// testExchangeHook, if non-nil, replaces the network exchange.
	testExchangeHook func(network string, m *dns.Msg) (*dns.Msg, error)
}

var _ Lookuper = (*DNSLookuper)(nil)

func (l *DNSLookuper) logf(format string, args ...any) {
	if l.Logf != nil {
		l.Logf(format, args...)
	}
}

// LookupNetIP implements Lookuper.
func (l *DNSLookuper) LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error) {
	var qtypes []uint16
	switch network {
	case "ip4":
		qtypes = []uint16{dns.TypeA}
	case "ip6":
		qtypes = []uint16{dns.TypeAAAA}
	case "ip":
		qtypes = []uint16{dns.TypeA, dns.TypeAAAA}
	default:
		return nil, fmt.Errorf("supernode: unsupported network %q", network)
	}

	var (
		addrs   []netip.Addr
		lastErr error
	)
	for _, qtype := range qtypes {
		got, err := l.query(ctx, host, qtype, "udp")
		if err != nil {
			lastErr = err
			continue
		}
		addrs = append(addrs, got...)
	}
	if len(addrs) == 0 {
		if lastErr == nil {
			lastErr = &net.DNSError{Err: "no addresses", Name: host, Server: l.Server.String(), IsNotFound: true}
		}
		return nil, lastErr
	}
	return addrs, nil
}

func (l *DNSLookuper) query(ctx context.Context, host string, qtype uint16, network string) ([]netip.Addr, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)

	l.logf("asking %v over %s about %q (type %s)", l.Server, network, host, dns.TypeToString[qtype])

	var (
		resp *dns.Msg
		err  error
	)
	if l.testExchangeHook != nil {
		resp, err = l.testExchangeHook(network, m)
	} else {
		timeout := l.Timeout
		if timeout == 0 {
			timeout = 5 * time.Second
		}
		c := &dns.Client{Net: network, Timeout: timeout}
		resp, _, err = c.ExchangeContext(ctx, m, l.Server.String())
	}
	if err != nil {
		return nil, err
	}

	// If the message was truncated and we're using UDP, re-run with TCP.
	if resp.MsgHdr.Truncated && network == "udp" {
		l.logf("response for %q truncated; re-running query with TCP", host)
		return l.query(ctx, host, qtype, "tcp")
	}

	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, &net.DNSError{Err: "no such host", Name: host, Server: l.Server.String(), IsNotFound: true}
	default:
		return nil, &net.DNSError{Err: dns.RcodeToString[resp.Rcode], Name: host, Server: l.Server.String()}
	}

	var addrs []netip.Addr
	for _, rr := range resp.Answer {
		if ip := addrFromRecord(rr); ip.IsValid() {
			addrs = append(addrs, ip)
		}
	}
	return addrs, nil
}

func addrFromRecord(rr dns.RR) netip.Addr {
	switch v := rr.(type) {
	case *dns.A:
		ip, ok := netip.AddrFromSlice(v.A)
		if !ok {
			return netip.Addr{}
		}
		if ip = ip.Unmap(); !ip.Is4() {
			return netip.Addr{}
		}
		return ip
	case *dns.AAAA:
		ip, ok := netip.AddrFromSlice(v.AAAA)
		if !ok || !ip.Is6() {
			return netip.Addr{}
		}
		return ip
	}
	return netip.Addr{}
}

// IsNotFound reports whether err says the name does not exist, as
// opposed to a transient failure.
func IsNotFound(err error) bool {
	var de *net.DNSError
	return errors.As(err, &de) && de.IsNotFound
}
