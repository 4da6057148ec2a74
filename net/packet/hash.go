// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package packet

import (
	"encoding/binary"
	"math/bits"
)

// mugSeed is the first MurmurHash3 seed tried by Mug.
const mugSeed = 0xcafebabe

// Mug returns the 31-bit non-zero hash of b shared with the rest of the
// node: MurmurHash3 (x86, 32-bit) folded to 31 bits, retried with the next
// seed while the result is zero.
func Mug(b []byte) uint32 {
	for seed := uint32(mugSeed); ; seed++ {
		h := murmur32(b, seed)
		if ham := (h >> 31) ^ (h & 0x7fffffff); ham != 0 {
			return ham
		}
	}
}

// ContentHash returns the 20-bit hash of a packet body carried in the
// header.
func ContentHash(body []byte) uint32 {
	return Mug(body) & HashMask
}

const (
	murmurC1 = 0xcc9e2d51
	murmurC2 = 0x1b873593
)

// murmur32 is MurmurHash3_x86_32 of b with the given seed.
func murmur32(b []byte, seed uint32) uint32 {
	h := seed
	n := len(b)
	for ; len(b) >= 4; b = b[4:] {
		k := binary.LittleEndian.Uint32(b)
		k *= murmurC1
		k = bits.RotateLeft32(k, 15)
		k *= murmurC2
		h ^= k
		h = bits.RotateLeft32(h, 13)
		h = h*5 + 0xe6546b64
	}
	var k uint32
	switch len(b) {
	case 3:
		k ^= uint32(b[2]) << 16
		fallthrough
	case 2:
		k ^= uint32(b[1]) << 8
		fallthrough
	case 1:
		k ^= uint32(b[0])
		k *= murmurC1
		k = bits.RotateLeft32(k, 15)
		k *= murmurC2
		h ^= k
	}
	h ^= uint32(n)
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return h
}
