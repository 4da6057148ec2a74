// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package supernodetest provides an in-process DNS server for tests that
// resolve supernode names.
package supernodetest

import (
	"net"
	"net/netip"
	"strings"
	"sync"
	"testing"

	"github.com/miekg/dns"
)

// DNSServer is an authoritative DNS server on loopback UDP that answers A
// queries from a fixed table.
type DNSServer struct {
	srv  *dns.Server
	addr netip.AddrPort

	mu      sync.Mutex
	records map[string]netip.Addr // keyed by lowercase FQDN without trailing dot
	queries []string
}

// NewDNSServer starts a DNS server serving records, which maps host names
// to IPv4 addresses. Names not in records get NXDOMAIN. The server is
// stopped when the test ends.
func NewDNSServer(tb testing.TB, records map[string]netip.Addr) *DNSServer {
	tb.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("ListenPacket: %v", err)
	}
	s := &DNSServer{
		addr:    pc.LocalAddr().(*net.UDPAddr).AddrPort(),
		records: map[string]netip.Addr{},
	}
	for name, ip := range records {
		s.records[canonical(name)] = ip
	}

	started := make(chan struct{})
	s.srv = &dns.Server{
		PacketConn:        pc,
		Handler:           dns.HandlerFunc(s.serveDNS),
		NotifyStartedFunc: func() { close(started) },
	}
	go s.srv.ActivateAndServe()
	<-started
	tb.Cleanup(func() { s.srv.Shutdown() })
	return s
}

// Addr returns the address the server listens on.
func (s *DNSServer) Addr() netip.AddrPort { return s.addr }

// Set adds or replaces the record for name. An invalid ip deletes it.
func (s *DNSServer) Set(name string, ip netip.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !ip.IsValid() {
		delete(s.records, canonical(name))
		return
	}
	s.records[canonical(name)] = ip
}

// Queries returns the names queried so far, in order.
func (s *DNSServer) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

func canonical(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}

func (s *DNSServer) serveDNS(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true
	if r.Opcode != dns.OpcodeQuery || len(r.Question) == 0 {
		m.Rcode = dns.RcodeRefused
		w.WriteMsg(m)
		return
	}

	q := r.Question[0]
	name := canonical(q.Name)

	s.mu.Lock()
	s.queries = append(s.queries, name)
	ip, ok := s.records[name]
	s.mu.Unlock()

	switch {
	case !ok:
		m.Rcode = dns.RcodeNameError
	case q.Qtype == dns.TypeA:
		m.Answer = append(m.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
			A:   net.IP(ip.AsSlice()),
		})
	}
	w.WriteMsg(m)
}
