// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package packet contains the wire codec for overlay packets: a fixed
// four-byte header followed by the sender and receiver identities and an
// opaque content payload.
package packet

import (
	"errors"
	"fmt"

	"ames.network/types/nodeid"
)

// ErrMalformed is wrapped by every error returned when decoding a
// datagram that is not a well-formed packet.
var ErrMalformed = errors.New("malformed packet")

var (
	// ErrTooShort is returned for datagrams that cannot hold a header and
	// a non-empty body.
	ErrTooShort = fmt.Errorf("%w: too short", ErrMalformed)
	// ErrHashMismatch is returned when the header hash does not match the
	// body.
	ErrHashMismatch = fmt.Errorf("%w: content hash mismatch", ErrMalformed)
	// ErrTruncatedID is returned when an identity runs past the end of
	// the datagram.
	ErrTruncatedID = fmt.Errorf("%w: truncated identity", ErrMalformed)
)

// DecodeID reads a big-endian identity of nodeid.Width(code) bytes from
// the front of b and returns it with the remaining bytes.
func DecodeID(b []byte, code uint8) (id nodeid.ID, rest []byte, err error) {
	n := nodeid.Width(code)
	if len(b) < n {
		return nodeid.ID{}, nil, ErrTruncatedID
	}
	id, err = nodeid.FromBytes(b[:n])
	if err != nil {
		return nodeid.ID{}, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return id, b[n:], nil
}

// Parsed is a decoded overlay packet. Its slices alias the buffer passed
// to Decode.
type Parsed struct {
	b []byte // the whole datagram

	Header   Header
	Sender   nodeid.ID
	Receiver nodeid.ID

	content []byte
}

func (p *Parsed) String() string {
	return fmt.Sprintf("v%d %v->%v len=%d", p.Header.Version, p.Sender, p.Receiver, len(p.content))
}

// Decode parses the datagram b into p. Any short buffer, hash mismatch or
// truncated identity fails with an error wrapping ErrMalformed and leaves
// p zeroed.
func (p *Parsed) Decode(b []byte) error {
	*p = Parsed{}
	if len(b) <= HeaderLen {
		return ErrTooShort
	}
	h, err := UnpackHeader(b)
	if err != nil {
		return err
	}
	body := b[HeaderLen:]
	if ContentHash(body) != h.Hash {
		return ErrHashMismatch
	}
	sender, rest, err := DecodeID(body, h.SenderCode)
	if err != nil {
		return err
	}
	receiver, rest, err := DecodeID(rest, h.ReceiverCode)
	if err != nil {
		return err
	}
	*p = Parsed{
		b:        b,
		Header:   h,
		Sender:   sender,
		Receiver: receiver,
		content:  rest,
	}
	return nil
}

// Buffer returns the whole datagram.
func (p *Parsed) Buffer() []byte { return p.b }

// Body returns the bytes covered by the content hash: everything after
// the header.
func (p *Parsed) Body() []byte {
	if len(p.b) < HeaderLen {
		return nil
	}
	return p.b[HeaderLen:]
}

// Content returns the opaque payload following the identities.
func (p *Parsed) Content() []byte { return p.content }

// Generate frames content as a packet from sender to receiver. The size
// codes in h are widened if an identity does not fit them, and the hash is
// computed over the new body; the remaining fields of h are kept.
func Generate(h Header, sender, receiver nodeid.ID, content []byte) []byte {
	h.SenderCode = max(h.SenderCode&3, sender.SizeCode())
	h.ReceiverCode = max(h.ReceiverCode&3, receiver.SizeCode())
	h.Version &= MaxVersion

	buf := make([]byte, HeaderLen, HeaderLen+nodeid.Width(h.SenderCode)+nodeid.Width(h.ReceiverCode)+len(content))
	buf = sender.AppendBytes(buf, h.SenderCode)
	buf = receiver.AppendBytes(buf, h.ReceiverCode)
	buf = append(buf, content...)

	h.Hash = ContentHash(buf[HeaderLen:])
	if err := h.Marshal(buf); err != nil {
		// All fields were masked into range above.
		panic(err)
	}
	return buf
}
