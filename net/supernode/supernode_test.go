// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package supernode

import "testing"

func TestPort(t *testing.T) {
	tests := []struct {
		n         uint8
		localOnly bool
		want      uint16
	}{
		{0, false, 13337},
		{5, false, 13342},
		{255, false, 13592},
		{0, true, 31337},
		{255, true, 31592},
	}
	for _, tt := range tests {
		if got := Port(tt.n, tt.localOnly); got != tt.want {
			t.Errorf("Port(%d, %v) = %d; want %d", tt.n, tt.localOnly, got, tt.want)
		}
	}
}

func TestFQDN(t *testing.T) {
	tests := []struct {
		n      uint8
		domain string
		want   string
	}{
		{0, "example.org", "zod.example.org"},
		{5, "example.org", "per.example.org"},
		{255, "urbit.example.", "fes.urbit.example"},
		{1, "", ""},
		{1, ".", ""},
	}
	for _, tt := range tests {
		if got := FQDN(tt.n, tt.domain); got != tt.want {
			t.Errorf("FQDN(%d, %q) = %q; want %q", tt.n, tt.domain, got, tt.want)
		}
	}
}
