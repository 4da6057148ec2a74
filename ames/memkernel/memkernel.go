// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package memkernel is a minimal in-process kernel for an ames driver. It
// consumes the driver's event queue, learns a route to every node it hears
// from, and answers the driver's protocol version and route queries.
package memkernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ames.network/driver"
	"ames.network/kernel"
	"ames.network/net/packet"
	"ames.network/types/lane"
	"ames.network/types/logger"
	"ames.network/types/nodeid"
	"github.com/jellydator/ttlcache/v3"
)

// DefaultRouteTTL is how long a learned route is kept without being
// heard from again.
const DefaultRouteTTL = 2 * time.Minute

// Options contains options for New.
type Options struct {
	// Logf is the log function. If nil, logs are discarded.
	Logf logger.Logf

	// ProtocolVersion is the wire version reported to the driver, if
	// HasVersion is set. Otherwise the version query finds nothing.
	ProtocolVersion uint8
	HasVersion      bool

	// RouteTTL is the lifetime of learned routes. Zero means
	// DefaultRouteTTL.
	RouteTTL time.Duration

	// Domains, if non-empty, are handed to the driver in a turf effect
	// once it is born.
	Domains []string

	// Apply, if non-nil, receives the effects the kernel emits. It is
	// typically (*ames.Driver).ApplyEffect.
	Apply func(kernel.Effect) bool

	// OnHear, if non-nil, is called with every valid packet heard.
	OnHear func(from lane.Lane, p *packet.Parsed)
}

// Kernel is an in-process kernel. It is safe for concurrent use.
type Kernel struct {
	logf       logger.Logf
	version    uint8
	hasVersion bool
	domains    []string
	apply      func(kernel.Effect) bool
	onHear     func(lane.Lane, *packet.Parsed)

	mu     sync.Mutex // guards routes
	routes *ttlcache.Cache[nodeid.ID, lane.Lane]

	heard     atomic.Uint64
	malformed atomic.Uint64
	born      atomic.Bool
}

// New returns a new Kernel.
func New(opts Options) *Kernel {
	ttl := opts.RouteTTL
	if ttl <= 0 {
		ttl = DefaultRouteTTL
	}
	logf := opts.Logf
	if logf == nil {
		logf = logger.Discard
	}
	return &Kernel{
		logf:       logger.WithPrefix(logf, "kernel: "),
		version:    opts.ProtocolVersion,
		hasVersion: opts.HasVersion,
		domains:    opts.Domains,
		apply:      opts.Apply,
		onHear:     opts.OnHear,
		routes: ttlcache.New(
			ttlcache.WithTTL[nodeid.ID, lane.Lane](ttl),
			ttlcache.WithDisableTouchOnHit[nodeid.ID, lane.Lane](),
		),
	}
}

// Peek answers a read-only query. It implements kernel.Peeker.
//
// Supported queries are ax/protocol/version and ax/peers/<id>/route.
// Unknown paths find nothing; an unknown care is an error.
func (k *Kernel) Peek(ctx context.Context, q kernel.Query) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if q.Care != "ax" {
		return nil, false, fmt.Errorf("memkernel: unsupported care %q", q.Care)
	}
	switch {
	case len(q.Path) == 2 && q.Path[0] == "protocol" && q.Path[1] == "version":
		if !k.hasVersion {
			return nil, false, nil
		}
		return uint64(k.version), true, nil
	case len(q.Path) == 3 && q.Path[0] == "peers" && q.Path[2] == "route":
		id, err := nodeid.ParseID(q.Path[1])
		if err != nil {
			return nil, false, fmt.Errorf("memkernel: %v: %w", q, err)
		}
		l, ok := k.Route(id)
		if !ok {
			return nil, false, nil
		}
		return l, true, nil
	}
	return nil, false, nil
}

// Route returns the unexpired route to id, if known.
func (k *Kernel) Route(id nodeid.ID) (lane.Lane, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	item := k.routes.Get(id)
	if item == nil {
		return lane.Lane{}, false
	}
	return item.Value(), true
}

// SetRoute records l as the route to id.
func (k *Kernel) SetRoute(id nodeid.ID, l lane.Lane) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.routes.Set(id, l, ttlcache.DefaultTTL)
}

// Heard returns the number of valid packets handled.
func (k *Kernel) Heard() uint64 { return k.heard.Load() }

// Born reports whether a born event has been handled.
func (k *Kernel) Born() bool { return k.born.Load() }

// Handle processes one event.
func (k *Kernel) Handle(ev kernel.Event) {
	switch c := ev.Card.(type) {
	case kernel.HearCard:
		k.hear(c)
	case kernel.BornCard:
		k.bornOn(ev.Wire)
	default:
		k.logf("unhandled event %v", ev)
	}
}

func (k *Kernel) hear(c kernel.HearCard) {
	var p packet.Parsed
	if err := p.Decode(c.Packet); err != nil {
		k.malformed.Add(1)
		k.logf("hear from %v: %v", c.Lane, err)
		return
	}
	k.heard.Add(1)
	// Supernodes are reached by name; only learn where ordinary nodes
	// can be found.
	if !p.Sender.IsSupernode() {
		k.SetRoute(p.Sender, c.Lane)
	}
	if k.onHear != nil {
		k.onHear(c.Lane, &p)
	}
}

func (k *Kernel) bornOn(w kernel.Wire) {
	if k.born.Swap(true) {
		k.logf("born again on %v", w)
	}
	if k.apply == nil {
		return
	}
	if !k.apply(kernel.Effect{Wire: kernel.Wire{"ames"}, Card: kernel.InitCard{}}) {
		k.logf("init effect unhandled")
	}
	if len(k.domains) > 0 {
		if !k.apply(kernel.Effect{Wire: w, Card: kernel.TurfCard{Domains: k.domains}}) {
			k.logf("turf effect unhandled")
		}
	}
}

// Send emits a send effect for b to l, as the kernel does for every
// outbound packet.
func (k *Kernel) Send(l lane.Lane, b []byte) error {
	if k.apply == nil {
		return errors.New("memkernel: no effect handler")
	}
	if !k.apply(kernel.Effect{Wire: kernel.Wire{"newt"}, Card: kernel.SendCard{Lane: l, Packet: b}}) {
		return errors.New("memkernel: send effect unhandled")
	}
	return nil
}

// Run handles events from q until ctx is done, expiring old routes in
// the background. It returns ctx.Err().
func (k *Kernel) Run(ctx context.Context, q *driver.Queue) error {
	go k.routes.Start()
	defer k.routes.Stop()
	for {
		ev, err := q.Next(ctx)
		if err != nil {
			return err
		}
		k.Handle(ev)
	}
}
