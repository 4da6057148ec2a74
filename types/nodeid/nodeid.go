// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package nodeid defines the 128-bit identity of a node on the overlay
// network and its variable-width wire encoding.
package nodeid

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ID is a node identity: a 128-bit unsigned integer split into two
// 64-bit words. The zero value is node 0, the first supernode.
type ID struct {
	Hi uint64
	Lo uint64
}

// FromSupernode returns the identity of supernode n.
func FromSupernode(n uint8) ID {
	return ID{Lo: uint64(n)}
}

// IsSupernode reports whether id is one of the 256 well-known supernodes.
func (id ID) IsSupernode() bool {
	return id.Hi == 0 && id.Lo < 256
}

// Supernode returns the supernode number of id, if it is one.
func (id ID) Supernode() (n uint8, ok bool) {
	if !id.IsSupernode() {
		return 0, false
	}
	return uint8(id.Lo), true
}

// SizeCode returns the smallest size code whose width holds id.
// Size code c encodes the identity in Width(c) bytes.
func (id ID) SizeCode() uint8 {
	switch {
	case id.Hi != 0:
		return 3
	case id.Lo > 0xffffffff:
		return 2
	case id.Lo > 0xffff:
		return 1
	default:
		return 0
	}
}

// Width returns the number of bytes an identity occupies on the wire for
// the two-bit size code c: one of 2, 4, 8 or 16.
func Width(code uint8) int {
	return 2 << (code & 3)
}

// AppendBytes appends the big-endian encoding of id, Width(code) bytes
// long, to b. It panics if id does not fit in that width.
func (id ID) AppendBytes(b []byte, code uint8) []byte {
	if code&3 < id.SizeCode() {
		panic(fmt.Sprintf("nodeid: %v does not fit in %d bytes", id, Width(code)))
	}
	switch code & 3 {
	case 0:
		return binary.BigEndian.AppendUint16(b, uint16(id.Lo))
	case 1:
		return binary.BigEndian.AppendUint32(b, uint32(id.Lo))
	case 2:
		return binary.BigEndian.AppendUint64(b, id.Lo)
	default:
		b = binary.BigEndian.AppendUint64(b, id.Hi)
		return binary.BigEndian.AppendUint64(b, id.Lo)
	}
}

// ErrBadWidth is returned by FromBytes for a slice whose length is not a
// valid identity width.
var ErrBadWidth = errors.New("nodeid: identity must be 2, 4, 8 or 16 bytes")

// FromBytes decodes a big-endian identity of 2, 4, 8 or 16 bytes.
func FromBytes(b []byte) (ID, error) {
	switch len(b) {
	case 2:
		return ID{Lo: uint64(binary.BigEndian.Uint16(b))}, nil
	case 4:
		return ID{Lo: uint64(binary.BigEndian.Uint32(b))}, nil
	case 8:
		return ID{Lo: binary.BigEndian.Uint64(b)}, nil
	case 16:
		return ID{
			Hi: binary.BigEndian.Uint64(b[:8]),
			Lo: binary.BigEndian.Uint64(b[8:]),
		}, nil
	}
	return ID{}, ErrBadWidth
}

// String returns "~name" for supernodes and a 0x-prefixed hex string for
// every other identity.
func (id ID) String() string {
	if n, ok := id.Supernode(); ok {
		return "~" + SupernodeName(n)
	}
	if id.Hi == 0 {
		return fmt.Sprintf("0x%x", id.Lo)
	}
	return fmt.Sprintf("0x%x%016x", id.Hi, id.Lo)
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	v, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// ParseID parses an identity in one of the forms produced by String
// ("~zod", "0x1f") or as a decimal number of up to 64 bits.
func ParseID(s string) (ID, error) {
	switch {
	case strings.HasPrefix(s, "~"):
		n, ok := ParseSupernodeName(s[1:])
		if !ok {
			return ID{}, fmt.Errorf("nodeid: unknown supernode name %q", s)
		}
		return FromSupernode(n), nil
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		hex := s[2:]
		if hex == "" || len(hex) > 32 {
			return ID{}, fmt.Errorf("nodeid: bad hex identity %q", s)
		}
		var id ID
		if len(hex) > 16 {
			hi, err := strconv.ParseUint(hex[:len(hex)-16], 16, 64)
			if err != nil {
				return ID{}, fmt.Errorf("nodeid: bad hex identity %q: %w", s, err)
			}
			id.Hi = hi
			hex = hex[len(hex)-16:]
		}
		lo, err := strconv.ParseUint(hex, 16, 64)
		if err != nil {
			return ID{}, fmt.Errorf("nodeid: bad hex identity %q: %w", s, err)
		}
		id.Lo = lo
		return id, nil
	}
	lo, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("nodeid: bad identity %q: %w", s, err)
	}
	return ID{Lo: lo}, nil
}
