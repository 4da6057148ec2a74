// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package supernode

import (
	"net/netip"
	"time"
)

// TTL is both how long a resolved address is trusted and how long a
// failed resolution suppresses new lookups.
const TTL = 5 * time.Minute

// Sentinel values of Entry.IP.
const (
	IPUnresolved uint32 = 0
	IPFailed     uint32 = 0xffffffff
)

// Status is the outcome of the most recent resolution of a supernode.
type Status int8

const (
	StatusUnknown  Status = iota // never resolved
	StatusFound                  // last lookup returned an address
	StatusNotFound               // last lookup failed
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusNotFound:
		return "not-found"
	}
	return "unknown"
}

// Entry is the cached resolution state of one supernode.
type Entry struct {
	IP      uint32 // IPv4 address, or IPUnresolved, or IPFailed
	Updated time.Time
	Status  Status
}

// Addr returns e.IP as an address. It reports false for the sentinels.
func (e Entry) Addr() (netip.Addr, bool) {
	if e.IP == IPUnresolved || e.IP == IPFailed {
		return netip.Addr{}, false
	}
	return addrFromUint32(e.IP), true
}

// Action is what a sender should do to reach a supernode.
type Action int8

const (
	// UseCached means the cached address is fresh; send to it.
	UseCached Action = iota
	// Lookup means the address must be resolved before sending.
	Lookup
	// FailFast means a recent lookup failed; drop the send.
	FailFast
)

func (a Action) String() string {
	switch a {
	case UseCached:
		return "use-cached"
	case Lookup:
		return "lookup"
	case FailFast:
		return "fail-fast"
	}
	return "unknown"
}

// Cache holds the resolution state of every supernode, indexed by
// supernode number. The zero value has every entry unresolved.
//
// Cache is not safe for concurrent use; it is owned by the driver's event
// loop.
type Cache struct {
	entries [256]Entry
}

// Entry returns the state of supernode n.
func (c *Cache) Entry(n uint8) Entry {
	return c.entries[n]
}

// Decide returns how to reach supernode n at time now. For UseCached it
// also returns the address to send to.
func (c *Cache) Decide(n uint8, now time.Time) (Action, netip.Addr) {
	e := c.entries[n]
	age := now.Sub(e.Updated)
	switch {
	case e.IP == IPFailed && age < TTL:
		return FailFast, netip.Addr{}
	case e.IP == IPUnresolved, e.IP == IPFailed, age > TTL:
		return Lookup, netip.Addr{}
	}
	ip, _ := e.Addr()
	return UseCached, ip
}

// Resolved records a successful lookup of supernode n at now; ip must be
// an IPv4 address. It returns
// the previous address and whether the address changed.
func (c *Cache) Resolved(n uint8, ip netip.Addr, now time.Time) (old uint32, changed bool) {
	e := &c.entries[n]
	old = e.IP
	e.IP = addrToUint32(ip)
	e.Updated = now
	e.Status = StatusFound
	return old, e.IP != old
}

// Failed records a failed lookup of supernode n at now and reports
// whether the supernode had previously been found, so callers can log the
// transition once.
//
// A previously resolved address is kept and trusted for another TTL;
// otherwise the entry is marked IPFailed, starting the backoff window.
func (c *Cache) Failed(n uint8, now time.Time) (wasFound bool) {
	e := &c.entries[n]
	wasFound = e.Status == StatusFound
	e.Status = StatusNotFound
	if e.IP == IPUnresolved || e.IP == IPFailed {
		e.IP = IPFailed
	}
	e.Updated = now
	return wasFound
}

func addrFromUint32(ip uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(ip >> 24), byte(ip >> 16), byte(ip >> 8), byte(ip)})
}

func addrToUint32(a netip.Addr) uint32 {
	b := a.Unmap().As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
