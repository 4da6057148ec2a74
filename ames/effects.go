// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package ames

import (
	"context"
	"strings"

	"ames.network/kernel"
)

// ApplyEffect applies an effect emitted by the kernel. It reports whether
// the effect was one the driver handles; unhandled effects are left for
// other drivers.
//
// Sends are performed asynchronously. ApplyEffect blocks only to
// classify the effect and, for a turf effect, to update the supernode
// domain.
func (d *Driver) ApplyEffect(ef kernel.Effect) bool {
	switch ef.Wire.Head() {
	case "newt":
		switch c := ef.Card.(type) {
		case kernel.SendCard:
			d.Send(c.Lane, c.Packet)
			return true
		case kernel.TurfCard:
			d.loop.RunSync(context.Background(), func() { d.turf(c.Domains) })
			return true
		}
	case "ames":
		if _, ok := ef.Card.(kernel.InitCard); ok {
			return true
		}
	case "term":
		if c, ok := ef.Card.(kernel.SendCard); ok {
			d.logf("strange send on %v", ef.Wire)
			d.Send(c.Lane, c.Packet)
			return true
		}
	}
	return false
}

// turf replaces the supernode domain with the first of domains, and
// brings the driver live if it is not already.
func (d *Driver) turf(domains []string) {
	if d.closing() {
		return
	}
	if len(domains) == 0 {
		if !d.fake {
			d.logf("turf: no domains")
		}
	} else {
		dom := strings.Trim(domains[0], ".")
		if dom != d.domain {
			d.logf("turf: domain %q", dom)
		}
		d.domain = dom
	}
	if d.State() != StateLive {
		if err := d.goLive(); err != nil {
			d.logf("turf: %v", err)
		}
	}
}
