// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package nodeid

import (
	"bytes"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestSupernodeName(t *testing.T) {
	c := qt.New(t)
	c.Assert(len(supernodeNames), qt.Equals, 256*3)
	c.Assert(SupernodeName(0), qt.Equals, "zod")
	c.Assert(SupernodeName(1), qt.Equals, "nec")
	c.Assert(SupernodeName(2), qt.Equals, "bud")
	c.Assert(SupernodeName(5), qt.Equals, "per")
	c.Assert(SupernodeName(255), qt.Equals, "fes")

	seen := map[string]bool{}
	for i := range 256 {
		name := SupernodeName(uint8(i))
		c.Assert(seen[name], qt.IsFalse, qt.Commentf("duplicate name %q", name))
		seen[name] = true

		n, ok := ParseSupernodeName(name)
		c.Assert(ok, qt.IsTrue)
		c.Assert(n, qt.Equals, uint8(i))
	}
	_, ok := ParseSupernodeName("zzz")
	c.Assert(ok, qt.IsFalse)
}

func TestIsSupernode(t *testing.T) {
	c := qt.New(t)
	c.Assert(ID{}.IsSupernode(), qt.IsTrue)
	c.Assert(ID{Lo: 255}.IsSupernode(), qt.IsTrue)
	c.Assert(ID{Lo: 256}.IsSupernode(), qt.IsFalse)
	c.Assert(ID{Hi: 1, Lo: 3}.IsSupernode(), qt.IsFalse)

	n, ok := ID{Lo: 42}.Supernode()
	c.Assert(ok, qt.IsTrue)
	c.Assert(n, qt.Equals, uint8(42))
	_, ok = ID{Lo: 1 << 20}.Supernode()
	c.Assert(ok, qt.IsFalse)
}

func TestSizeCode(t *testing.T) {
	tests := []struct {
		id   ID
		code uint8
	}{
		{ID{}, 0},
		{ID{Lo: 0xffff}, 0},
		{ID{Lo: 0x10000}, 1},
		{ID{Lo: 0xffffffff}, 1},
		{ID{Lo: 0x100000000}, 2},
		{ID{Lo: ^uint64(0)}, 2},
		{ID{Hi: 1}, 3},
		{ID{Hi: 2, Lo: 1}, 3},
	}
	for _, tt := range tests {
		if got := tt.id.SizeCode(); got != tt.code {
			t.Errorf("%v.SizeCode() = %d; want %d", tt.id, got, tt.code)
		}
	}
}

func TestBytesRoundTrip(t *testing.T) {
	ids := []ID{
		{},
		{Lo: 0x1234},
		{Lo: 0xdeadbeef},
		{Lo: 0x0102030405060708},
		{Hi: 2, Lo: 1},
		{Hi: ^uint64(0), Lo: ^uint64(0)},
	}
	for _, id := range ids {
		for code := id.SizeCode(); code < 4; code++ {
			b := id.AppendBytes(nil, code)
			if len(b) != Width(code) {
				t.Errorf("%v code %d: len = %d; want %d", id, code, len(b), Width(code))
			}
			got, err := FromBytes(b)
			if err != nil {
				t.Fatalf("%v code %d: FromBytes: %v", id, code, err)
			}
			if got != id {
				t.Errorf("%v code %d: round trip = %v", id, code, got)
			}
		}
	}
}

func TestBigEndian(t *testing.T) {
	c := qt.New(t)
	b := ID{Hi: 2, Lo: 1}.AppendBytes(nil, 3)
	want := []byte{0, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0, 1}
	c.Assert(bytes.Equal(b, want), qt.IsTrue, qt.Commentf("got % x", b))

	id, err := FromBytes([]byte{0x12, 0x34})
	c.Assert(err, qt.IsNil)
	c.Assert(id, qt.Equals, ID{Lo: 0x1234})
}

func TestFromBytesBadWidth(t *testing.T) {
	for _, n := range []int{0, 1, 3, 5, 15, 17} {
		if _, err := FromBytes(make([]byte, n)); err != ErrBadWidth {
			t.Errorf("FromBytes(len %d) err = %v; want ErrBadWidth", n, err)
		}
	}
}

func TestAppendBytesTooNarrowPanics(t *testing.T) {
	c := qt.New(t)
	c.Assert(func() { ID{Lo: 0x10000}.AppendBytes(nil, 0) }, qt.PanicMatches, `nodeid: .* does not fit in 2 bytes`)
}

func TestStringParse(t *testing.T) {
	tests := []struct {
		id  ID
		str string
	}{
		{ID{}, "~zod"},
		{ID{Lo: 255}, "~fes"},
		{ID{Lo: 256}, "0x100"},
		{ID{Hi: 2, Lo: 1}, "0x20000000000000001"},
	}
	for _, tt := range tests {
		if got := tt.id.String(); got != tt.str {
			t.Errorf("String(%#v) = %q; want %q", tt.id, got, tt.str)
		}
		got, err := ParseID(tt.str)
		if err != nil {
			t.Errorf("ParseID(%q): %v", tt.str, err)
			continue
		}
		if got != tt.id {
			t.Errorf("ParseID(%q) = %#v; want %#v", tt.str, got, tt.id)
		}
	}

	if got, err := ParseID("65536"); err != nil || got != (ID{Lo: 65536}) {
		t.Errorf("ParseID decimal = %v, %v", got, err)
	}
	for _, bad := range []string{"", "~xyz", "0x", "0xg", "0x" + "123456789012345678901234567890123", "-1"} {
		if _, err := ParseID(bad); err == nil {
			t.Errorf("ParseID(%q) succeeded; want error", bad)
		}
	}
}

func TestTextMarshal(t *testing.T) {
	c := qt.New(t)
	var id ID
	c.Assert(id.UnmarshalText([]byte("~nec")), qt.IsNil)
	c.Assert(id, qt.Equals, ID{Lo: 1})
	b, err := id.MarshalText()
	c.Assert(err, qt.IsNil)
	c.Assert(string(b), qt.Equals, "~nec")
}
