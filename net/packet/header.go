// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderLen is the length of the fixed packet header.
const HeaderLen = 4

// Bit layout of the little-endian header word.
const (
	versionBits   = 3
	hashShift     = 3
	hashBits      = 20
	senderShift   = 23
	receiverShift = 25
	encryptShift  = 27

	// MaxVersion is the largest protocol version the header can carry.
	MaxVersion = 1<<versionBits - 1
	// HashMask masks a hash down to the width carried in the header.
	HashMask = 1<<hashBits - 1
)

var (
	// errSmallBuffer is returned when Marshal receives a buffer
	// too small to contain the header to marshal.
	errSmallBuffer = errors.New("buffer too small")
	// errBadField is returned when Marshal receives a header with a
	// field that does not fit in its bit range.
	errBadField = errors.New("header field out of range")
)

// Header is the fixed header of an overlay packet.
//
// It is packed into one little-endian 32-bit word: bits 0-2 hold the
// version, 3-22 the content hash, 23-24 the sender size code, 25-26 the
// receiver size code and bit 27 the encrypted flag. Bits 28-31 are zero.
type Header struct {
	Version      uint8  // 0..MaxVersion
	Hash         uint32 // 20-bit hash of the body, see ContentHash
	SenderCode   uint8  // 0..3, sender identity is nodeid.Width(SenderCode) bytes
	ReceiverCode uint8  // 0..3
	Encrypted    bool
}

// Len returns the length of the marshaled header.
func (Header) Len() int {
	return HeaderLen
}

func (h Header) valid() error {
	switch {
	case h.Version > MaxVersion:
		return fmt.Errorf("%w: version %d", errBadField, h.Version)
	case h.Hash > HashMask:
		return fmt.Errorf("%w: hash %#x", errBadField, h.Hash)
	case h.SenderCode > 3:
		return fmt.Errorf("%w: sender size code %d", errBadField, h.SenderCode)
	case h.ReceiverCode > 3:
		return fmt.Errorf("%w: receiver size code %d", errBadField, h.ReceiverCode)
	}
	return nil
}

// Word returns the header packed into its 32-bit word. Fields are masked
// to their bit widths.
func (h Header) Word() uint32 {
	w := uint32(h.Version)&MaxVersion |
		(h.Hash&HashMask)<<hashShift |
		uint32(h.SenderCode&3)<<senderShift |
		uint32(h.ReceiverCode&3)<<receiverShift
	if h.Encrypted {
		w |= 1 << encryptShift
	}
	return w
}

// Marshal serializes the header into the first HeaderLen bytes of buf.
func (h Header) Marshal(buf []byte) error {
	if len(buf) < HeaderLen {
		return errSmallBuffer
	}
	if err := h.valid(); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf, h.Word())
	return nil
}

// HeaderFromWord unpacks a header word.
func HeaderFromWord(w uint32) Header {
	return Header{
		Version:      uint8(w & MaxVersion),
		Hash:         (w >> hashShift) & HashMask,
		SenderCode:   uint8(w>>senderShift) & 3,
		ReceiverCode: uint8(w>>receiverShift) & 3,
		Encrypted:    (w>>encryptShift)&1 == 1,
	}
}

// UnpackHeader decodes the header at the start of b. It does not check
// the hash against the body.
func UnpackHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrTooShort
	}
	return HeaderFromWord(binary.LittleEndian.Uint32(b)), nil
}

// VersionOf returns the protocol version carried in the first byte of a
// datagram, or 0 if b is empty.
func VersionOf(b []byte) uint8 {
	if len(b) == 0 {
		return 0
	}
	return b[0] & MaxVersion
}
