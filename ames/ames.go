// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package ames implements the UDP packet transport of a node: it frames
// and sends packets to direct addresses and supernodes, validates and
// delivers inbound packets to the kernel, and statelessly forwards packets
// addressed to other nodes.
package ames

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"ames.network/driver"
	"ames.network/kernel"
	"ames.network/net/supernode"
	"ames.network/tstime"
	"ames.network/types/logger"
	"ames.network/types/nodeid"
	"ames.network/util/execqueue"
	"github.com/prometheus/client_golang/prometheus"
)

var _ driver.Driver = (*Driver)(nil)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("ames: driver closed")

// State is the lifecycle state of a Driver.
type State int32

const (
	StateCreated State = iota // constructed, no socket
	StateBound                // socket bound, not receiving
	StateLive                 // receiving and sending
	StateClosing              // Close in progress
	StateClosed               // all resources released
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateBound:
		return "bound"
	case StateLive:
		return "live"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Options contains options for NewDriver.
type Options struct {
	// Logf provides a log function to use. It must not be nil.
	// Use logger.Discard to disregard logs.
	Logf logger.Logf

	// Identity is this node's identity.
	Identity nodeid.ID

	// Port is the UDP port to listen on. Zero means an ephemeral port,
	// except for supernodes, which default to their well-known port.
	Port uint16

	// LocalOnly restricts all traffic to loopback: the socket binds
	// 127.0.0.1, supernodes are reached on loopback, and sends to other
	// addresses are discarded.
	LocalOnly bool

	// Fake marks a fake identity used for testing networks. It implies
	// LocalOnly.
	Fake bool

	// Domains are the DNS domains under which supernodes are published.
	// Only the first is used. The kernel may replace them with a turf
	// effect.
	Domains []string

	// Kernel answers the driver's read-only queries. It must not be nil.
	Kernel kernel.Peeker

	// Queue receives the events the driver plans. If nil, a new Queue is
	// created; see Driver.Queue.
	Queue *driver.Queue

	// MaxPending caps the depth of Queue by dropping the oldest inbound
	// deliveries. Zero means driver.DefaultMaxPending.
	MaxPending int

	// Lookuper resolves supernode names. If nil, net.DefaultResolver is
	// used.
	Lookuper supernode.Lookuper

	// Clock, if non-nil, replaces the wall clock for supernode cache
	// expiry.
	Clock tstime.Clock

	// DeliverUnroutable, if true, delivers packets addressed to another
	// node to the local kernel when the kernel knows no route to that
	// node. Otherwise they are dropped.
	DeliverUnroutable bool

	// Registerer is where the driver's metrics are registered. If nil,
	// they are registered with a private registry.
	Registerer prometheus.Registerer

	// ListenPacket, if non-nil, is used instead of net.ListenConfig to
	// open the UDP socket.
	ListenPacket func(ctx context.Context, network, address string) (net.PacketConn, error)
}

// Driver is the UDP transport driver. All of its mutable state is owned
// by a single serial execution queue; socket reads, DNS lookups and kernel
// queries run on their own goroutines and post their results back to it.
type Driver struct {
	logf              logger.Logf
	id                nodeid.ID
	localOnly         bool
	fake              bool
	portOpt           uint16
	kern              kernel.Peeker
	gov               *driver.Governor
	lookup            supernode.Lookuper
	clock             tstime.Clock
	deliverUnroutable bool
	listenPacket      func(ctx context.Context, network, address string) (net.PacketConn, error)
	metrics           *metrics
	session           string // nonce naming this run on the born wire

	ctx       context.Context // canceled by Close
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup // receive loop
	closeOnce sync.Once

	loop execqueue.ExecQueue // owns the fields below

	pconn        net.PacketConn
	domain       string
	born         bool
	wireVersion  uint8
	versionKnown bool // version filtering is active
	cache        supernode.Cache

	// Mirrors of loop-owned state for readers on other goroutines.
	state     atomic.Int32
	boundPort atomic.Uint32
	version   atomic.Int32 // -1 until negotiated
}

// NewDriver returns a Driver for opts and asks the kernel for the
// negotiated protocol version. The driver does not touch the network
// until Start.
func NewDriver(opts Options) (*Driver, error) {
	if opts.Logf == nil {
		return nil, errors.New("ames: Options.Logf must be non-nil")
	}
	if opts.Kernel == nil {
		return nil, errors.New("ames: Options.Kernel must be non-nil")
	}
	q := opts.Queue
	if q == nil {
		q = driver.NewQueue()
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	d := &Driver{
		logf:              logger.WithPrefix(opts.Logf, "ames: "),
		id:                opts.Identity,
		localOnly:         opts.LocalOnly || opts.Fake,
		fake:              opts.Fake,
		portOpt:           opts.Port,
		kern:              opts.Kernel,
		lookup:            opts.Lookuper,
		clock:             opts.Clock,
		deliverUnroutable: opts.DeliverUnroutable,
		listenPacket:      opts.ListenPacket,
		session:           newSession(),
	}
	if d.lookup == nil {
		d.lookup = net.DefaultResolver
	}
	if d.clock == nil {
		d.clock = tstime.StdClock{}
	}
	if d.listenPacket == nil {
		var lc net.ListenConfig
		d.listenPacket = lc.ListenPacket
	}
	if len(opts.Domains) > 0 {
		d.domain = strings.Trim(opts.Domains[0], ".")
	}
	d.version.Store(-1)
	d.ctx, d.ctxCancel = context.WithCancel(context.Background())
	d.metrics = newMetrics(reg, q)
	d.gov = driver.NewGovernor(q, opts.MaxPending, d.logf, d.metrics.eventsDropped.Inc)

	d.negotiateVersion()
	return d, nil
}

func newSession() string {
	var b [8]byte
	crand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Queue returns the queue the driver plans events on.
func (d *Driver) Queue() *driver.Queue { return d.gov.Queue() }

// State returns the driver's lifecycle state.
func (d *Driver) State() State { return State(d.state.Load()) }

// Port returns the bound UDP port, or 0 if the socket is not bound.
func (d *Driver) Port() uint16 { return uint16(d.boundPort.Load()) }

// ProtocolVersion returns the negotiated wire protocol version. ok is
// false until the kernel has answered; until then version 0 is assumed
// and no version filtering is done.
func (d *Driver) ProtocolVersion() (v uint8, ok bool) {
	n := d.version.Load()
	if n < 0 {
		return 0, false
	}
	return uint8(n), true
}

// DropCount returns the number of inbound deliveries dropped because the
// event queue was full.
func (d *Driver) DropCount() uint64 { return d.gov.Dropped() }

// Identity returns the node identity the driver serves.
func (d *Driver) Identity() nodeid.ID { return d.id }

func (d *Driver) setState(s State) { d.state.Store(int32(s)) }

// closing reports whether Close has begun. Loop callbacks that complete
// after that point discard their work.
func (d *Driver) closing() bool { return d.State() >= StateClosing }

// goAsync runs f on a new goroutine. It must be called from the loop.
// Close cancels the context passed to f but does not wait for f to
// return; f reports back through d.loop, which drops work once closing.
func (d *Driver) goAsync(f func(ctx context.Context)) {
	if d.closing() {
		return
	}
	go f(d.ctx)
}

// Start binds the socket if necessary, starts receiving, and announces
// the driver to the kernel with a born event. A bind failure is returned
// and is fatal to the node.
func (d *Driver) Start(ctx context.Context) error {
	var err error
	if rerr := d.loop.RunSync(ctx, func() { err = d.start() }); rerr != nil {
		if d.closing() {
			return ErrClosed
		}
		return rerr
	}
	return err
}

func (d *Driver) start() error {
	if d.closing() {
		return ErrClosed
	}
	if err := d.goLive(); err != nil {
		return err
	}
	if !d.born {
		d.born = true
		d.gov.Plan(kernel.Event{
			Wire: kernel.Wire{"newt", d.session},
			Card: kernel.BornCard{},
		})
	}
	return nil
}

// goLive moves the driver to StateLive, binding the socket first if
// needed.
func (d *Driver) goLive() error {
	switch d.State() {
	case StateLive:
		return nil
	case StateCreated:
		if err := d.bind(); err != nil {
			return err
		}
	}
	pc := d.pconn
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.receiveLoop(pc)
	}()
	d.setState(StateLive)
	if d.localOnly {
		d.logf("live on %d (localhost only)", d.Port())
	} else {
		d.logf("live on %d", d.Port())
	}
	return nil
}

func (d *Driver) bind() error {
	port := d.portOpt
	if n, ok := d.id.Supernode(); ok {
		zar := supernode.Port(n, d.localOnly)
		if port == 0 {
			port = zar
		} else if port != zar {
			d.logf("czar: overriding port %d with %d", zar, port)
			d.logf("czar: WARNING: %d required for discoverability", zar)
		}
	}
	host := "0.0.0.0"
	if d.localOnly {
		host = "127.0.0.1"
	}
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
	pc, err := d.listenPacket(d.ctx, "udp4", addr)
	if err != nil {
		return fmt.Errorf("ames: bind %s: %w", addr, err)
	}
	d.pconn = pc
	if ua, ok := pc.LocalAddr().(*net.UDPAddr); ok {
		d.boundPort.Store(uint32(ua.Port))
	} else if ap, err := netip.ParseAddrPort(pc.LocalAddr().String()); err == nil {
		d.boundPort.Store(uint32(ap.Port()))
	}
	d.setState(StateBound)
	return nil
}

// Close closes the socket and releases the driver. Results of lookups and
// queries still in flight are discarded. It is safe to call Close more
// than once.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		d.loop.RunSync(context.Background(), func() {
			d.setState(StateClosing)
			if d.pconn != nil {
				d.pconn.Close()
			}
		})
		d.ctxCancel()
		d.wg.Wait()
		d.loop.Shutdown()
		d.setState(StateClosed)
	})
	return nil
}

// negotiateVersion asks the kernel which wire protocol version to speak.
func (d *Driver) negotiateVersion() {
	q := kernel.Query{Care: "ax", Path: []string{"protocol", "version"}}
	go func() {
		v, ok, err := d.kern.Peek(d.ctx, q)
		d.loop.Add(func() { d.versionDone(v, ok, err) })
	}()
}

func (d *Driver) versionDone(v any, ok bool, err error) {
	if d.closing() {
		return
	}
	var ver uint8
	switch {
	case err != nil:
		d.logf("protocol version: %v; using 0", err)
	case !ok:
	default:
		n, isNum := asUint(v)
		switch {
		case !isNum:
			d.logf("strange protocol version %v; using 0", v)
		case n > 7:
			d.logf("protocol version %d out of range; using 0", n)
		default:
			ver = uint8(n)
		}
	}
	d.wireVersion = ver
	d.versionKnown = true
	d.version.Store(int32(ver))
}

func asUint(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	case uint:
		return uint64(n), true
	case int:
		return uint64(n), n >= 0
	case int64:
		return uint64(n), n >= 0
	case int32:
		return uint64(n), n >= 0
	}
	return 0, false
}
