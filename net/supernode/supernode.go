// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package supernode finds the UDP addresses of the 256 well-known
// supernodes. A supernode is published in DNS under its three-letter name
// below a configured domain and listens on a port derived from its number.
package supernode

import (
	"strings"

	"ames.network/types/nodeid"
)

// Base ports; supernode n listens on base+n.
const (
	NetworkedBasePort = 13337
	LocalBasePort     = 31337
)

// Port returns the UDP port of supernode n. Local-only nodes use a
// separate port range so a test network on loopback does not collide with
// a real supernode on the same host.
func Port(n uint8, localOnly bool) uint16 {
	if localOnly {
		return LocalBasePort + uint16(n)
	}
	return NetworkedBasePort + uint16(n)
}

// FQDN returns the DNS name of supernode n under domain, such as
// "per.example.org" for supernode 5. It returns the empty string if domain
// is empty.
func FQDN(n uint8, domain string) string {
	domain = strings.Trim(domain, ".")
	if domain == "" {
		return ""
	}
	return nodeid.SupernodeName(n) + "." + domain
}
