// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package driver contains the scaffolding shared by I/O drivers: the
// lifecycle contract and the pending-event queue that carries driver
// events to the kernel.
package driver

import (
	"context"

	"ames.network/kernel"
)

// Driver is an I/O driver hosted by the node.
type Driver interface {
	// Start brings the driver up. An error aborts node startup.
	Start(ctx context.Context) error
	// ApplyEffect performs a kernel effect addressed to the driver. It
	// reports false if the driver does not handle the effect.
	ApplyEffect(kernel.Effect) (handled bool)
	// Close shuts the driver down.
	Close() error
}
