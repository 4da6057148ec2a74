// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package lane defines Lane, the destination of a packet: either a direct
// IPv4 address and port or a reference to a supernode, plus its fixed
// serialization for crossing the kernel boundary.
package lane

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/fxamacker/cbor/v2"
)

// Lane is a packet destination. The zero value is the direct lane
// 0.0.0.0:0.
type Lane struct {
	supernode bool
	num       uint8          // if supernode
	addr      netip.AddrPort // if !supernode; always IPv4
}

// Direct returns the direct lane for the IPv4 address ip and port.
func Direct(ip uint32, port uint16) Lane {
	return Lane{addr: netip.AddrPortFrom(addrFromUint32(ip), port)}
}

// FromAddrPort returns the direct lane for ap. IPv4-mapped IPv6 addresses
// are unmapped. It reports false for addresses that are not IPv4.
func FromAddrPort(ap netip.AddrPort) (Lane, bool) {
	ip := ap.Addr().Unmap()
	if !ip.Is4() {
		return Lane{}, false
	}
	return Lane{addr: netip.AddrPortFrom(ip, ap.Port())}, true
}

// Supernode returns the lane that reaches supernode n.
func Supernode(n uint8) Lane {
	return Lane{supernode: true, num: n}
}

// IsSupernode reports whether l refers to a supernode.
func (l Lane) IsSupernode() bool { return l.supernode }

// SupernodeNum returns the supernode number of l, if l refers to one.
func (l Lane) SupernodeNum() (n uint8, ok bool) {
	return l.num, l.supernode
}

// AddrPort returns the address of a direct lane.
func (l Lane) AddrPort() (ap netip.AddrPort, ok bool) {
	if l.supernode {
		return netip.AddrPort{}, false
	}
	if !l.addr.IsValid() {
		return netip.AddrPortFrom(netip.IPv4Unspecified(), 0), true
	}
	return l.addr, true
}

// IP returns the IPv4 address of a direct lane as an integer, and 0 for
// supernode lanes.
func (l Lane) IP() uint32 {
	ap, ok := l.AddrPort()
	if !ok {
		return 0
	}
	return addrToUint32(ap.Addr())
}

// Port returns the port of a direct lane, and 0 for supernode lanes.
func (l Lane) Port() uint16 {
	ap, _ := l.AddrPort()
	return ap.Port()
}

// Equal reports whether l and o are the same destination.
func (l Lane) Equal(o Lane) bool {
	if l.supernode || o.supernode {
		return l.supernode == o.supernode && l.num == o.num
	}
	a, _ := l.AddrPort()
	b, _ := o.AddrPort()
	return a == b
}

func (l Lane) String() string {
	if l.supernode {
		return fmt.Sprintf("supernode/%d", l.num)
	}
	ap, _ := l.AddrPort()
	return ap.String()
}

func addrFromUint32(ip uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(ip >> 24), byte(ip >> 16), byte(ip >> 8), byte(ip)})
}

func addrToUint32(a netip.Addr) uint32 {
	b := a.Unmap().As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// Wire tags of the two lane variants.
const (
	tagDirect    = "ipv4"
	tagSupernode = "czar"
)

// ErrBadLane is wrapped by errors returned when decoding a malformed lane.
var ErrBadLane = errors.New("lane: malformed lane")

// MarshalCBOR implements cbor.Marshaler.
//
// A direct lane is encoded as the array ["ipv4", ip, port] and a supernode
// lane as ["czar", n].
func (l Lane) MarshalCBOR() ([]byte, error) {
	if l.supernode {
		return cbor.Marshal([]any{tagSupernode, l.num})
	}
	return cbor.Marshal([]any{tagDirect, l.IP(), l.Port()})
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (l *Lane) UnmarshalCBOR(data []byte) error {
	var parts []cbor.RawMessage
	if err := cbor.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("%w: %v", ErrBadLane, err)
	}
	if len(parts) == 0 {
		return fmt.Errorf("%w: empty array", ErrBadLane)
	}
	var tag string
	if err := cbor.Unmarshal(parts[0], &tag); err != nil {
		return fmt.Errorf("%w: tag: %v", ErrBadLane, err)
	}
	switch tag {
	case tagSupernode:
		if len(parts) != 2 {
			return fmt.Errorf("%w: supernode lane has %d fields", ErrBadLane, len(parts))
		}
		var n uint8
		if err := cbor.Unmarshal(parts[1], &n); err != nil {
			return fmt.Errorf("%w: supernode number: %v", ErrBadLane, err)
		}
		*l = Supernode(n)
		return nil
	case tagDirect:
		if len(parts) != 3 {
			return fmt.Errorf("%w: direct lane has %d fields", ErrBadLane, len(parts))
		}
		var (
			ip   uint32
			port uint16
		)
		if err := cbor.Unmarshal(parts[1], &ip); err != nil {
			return fmt.Errorf("%w: ip: %v", ErrBadLane, err)
		}
		if err := cbor.Unmarshal(parts[2], &port); err != nil {
			return fmt.Errorf("%w: port: %v", ErrBadLane, err)
		}
		*l = Direct(ip, port)
		return nil
	}
	return fmt.Errorf("%w: unknown tag %q", ErrBadLane, tag)
}
