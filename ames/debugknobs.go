// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package ames

import "ames.network/envknob"

var (
	// debugVerbose logs every dropped packet.
	debugVerbose = envknob.RegisterBool("AMES_DEBUG_VERBOSE")
	// debugNoVersionFilter accepts packets of any protocol version.
	debugNoVersionFilter = envknob.RegisterBool("AMES_DEBUG_NO_VERSION_FILTER")
)
