// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// The amesd command runs a standalone ames node: a UDP transport driver
// backed by an in-process kernel that learns routes from the packets it
// hears.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ames.network/ames"
	"ames.network/ames/memkernel"
	"ames.network/envknob"
	"ames.network/kernel"
	"ames.network/net/packet"
	"ames.network/net/supernode"
	"ames.network/types/lane"
	"ames.network/types/logger"
	"ames.network/types/nodeid"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

type daemonArgs struct {
	id              string
	port            uint
	local           bool
	fake            bool
	domains         string
	dnsServer       string
	metricsAddr     string
	protocolVersion int
	routeTTL        time.Duration
	statusInterval  time.Duration
	verbose         bool
}

func newRootCmd(args *daemonArgs) *ffcli.Command {
	fs := flag.NewFlagSet("amesd", flag.ContinueOnError)
	fs.StringVar(&args.id, "id", "", `node identity (required): "~name" for a supernode, 0x-prefixed hex, or decimal`)
	fs.UintVar(&args.port, "port", 0, "UDP port to listen on; 0 picks one, or the well-known port for a supernode")
	fs.BoolVar(&args.local, "local", false, "only talk to 127.0.0.1")
	fs.BoolVar(&args.fake, "fake", false, "run with a fake identity on a test network; implies --local")
	fs.StringVar(&args.domains, "domain", "", "comma-separated DNS domains under which supernodes are published; the first is used")
	fs.StringVar(&args.dnsServer, "dns-server", "", "ip[:port] of a DNS server to resolve supernodes with, instead of the system resolver")
	fs.StringVar(&args.metricsAddr, "metrics-addr", "", "address to serve Prometheus /metrics on; empty disables")
	fs.IntVar(&args.protocolVersion, "protocol-version", -1, "wire protocol version the kernel reports; -1 reports none")
	fs.DurationVar(&args.routeTTL, "route-ttl", memkernel.DefaultRouteTTL, "how long a route learned from a peer is kept")
	fs.DurationVar(&args.statusInterval, "status-interval", 30*time.Second, "how often to check for status changes to log; 0 disables")
	fs.BoolVar(&args.verbose, "verbose", false, "log debug output, including every dropped packet")
	fs.String("config", "", "path to a config file of flag-name value lines")

	return &ffcli.Command{
		Name:       "amesd",
		ShortUsage: "amesd [flags]",
		ShortHelp:  "Run an ames UDP transport node",
		FlagSet:    fs,
		Options: []ff.Option{
			ff.WithEnvVarPrefix("AMESD"),
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ff.PlainParser),
		},
		Exec: func(ctx context.Context, rest []string) error {
			if len(rest) > 0 {
				return fmt.Errorf("too many non-flag arguments: %q", rest)
			}
			return run(ctx, args)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var args daemonArgs
	if err := newRootCmd(&args).ParseAndRun(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "amesd:", err)
		os.Exit(1)
	}
}

func newZapLogger(verbose bool) (*zap.SugaredLogger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}
	zl, err := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         "json",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig:    encoderCfg,
	}.Build()
	if err != nil {
		return nil, err
	}
	return zl.Sugar(), nil
}

// driverOptions returns the driver options for args. Logf, Kernel and
// Registerer are left for the caller.
func (a *daemonArgs) driverOptions(logf logger.Logf) (ames.Options, error) {
	var opts ames.Options
	// The zero identity is ~zod; require it to be named explicitly.
	if a.id == "" {
		return opts, errors.New("--id is required")
	}
	id, err := nodeid.ParseID(a.id)
	if err != nil {
		return opts, fmt.Errorf("--id: %w", err)
	}
	opts.Identity = id
	if a.port > 0xffff {
		return opts, fmt.Errorf("--port %d out of range", a.port)
	}
	opts.Port = uint16(a.port)
	opts.LocalOnly = a.local
	opts.Fake = a.fake
	for _, d := range strings.Split(a.domains, ",") {
		if d = strings.TrimSpace(d); d != "" {
			opts.Domains = append(opts.Domains, d)
		}
	}
	if a.dnsServer != "" {
		server, err := parseDNSServer(a.dnsServer)
		if err != nil {
			return opts, fmt.Errorf("--dns-server: %w", err)
		}
		opts.Lookuper = &supernode.DNSLookuper{Server: server, Timeout: 5 * time.Second, Logf: logf}
	}
	return opts, nil
}

func (a *daemonArgs) kernelOptions(logf logger.Logf) (memkernel.Options, error) {
	opts := memkernel.Options{Logf: logf, RouteTTL: a.routeTTL}
	switch v := a.protocolVersion; {
	case v < 0:
	case v > 255:
		return opts, fmt.Errorf("--protocol-version %d out of range", v)
	default:
		opts.ProtocolVersion = uint8(v)
		opts.HasVersion = true
	}
	return opts, nil
}

// parseDNSServer parses an ip or ip:port, defaulting to port 53.
func parseDNSServer(s string) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap, nil
	}
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid address %q", s)
	}
	return netip.AddrPortFrom(ip, 53), nil
}

func run(ctx context.Context, args *daemonArgs) error {
	zlog, err := newZapLogger(args.verbose)
	if err != nil {
		return err
	}
	defer zlog.Sync()
	logf := logger.RateLimitedFn(zlog.Named("ames").Infof, time.Minute, 10, 100)
	if args.verbose {
		envknob.Setenv("AMES_DEBUG_VERBOSE", "true")
	}
	envknob.LogCurrent(logf)

	opts, err := args.driverOptions(logf)
	if err != nil {
		return err
	}
	kopts, err := args.kernelOptions(logf)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var d *ames.Driver
	kopts.Apply = func(ef kernel.Effect) bool { return d.ApplyEffect(ef) }
	kopts.Domains = opts.Domains
	if args.verbose {
		kopts.OnHear = func(from lane.Lane, p *packet.Parsed) {
			zlog.Debugw("hear", "from", from.String(), "packet", p.String())
		}
	}
	kern := memkernel.New(kopts)

	opts.Logf = logf
	opts.Kernel = kern
	opts.Registerer = reg
	d, err = ames.NewDriver(opts)
	if err != nil {
		return err
	}
	defer d.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := kern.Run(ctx, d.Queue()); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if err := d.Start(ctx); err != nil {
		return err
	}
	zlog.Infow("started", "identity", d.Identity().String(), "port", d.Port())

	if args.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{Addr: args.metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if args.statusInterval > 0 {
		g.Go(func() error {
			logStatus(ctx, logf, d, kern, args.statusInterval)
			return nil
		})
	}

	err = g.Wait()
	zlog.Infow("shutting down", "dropped", d.DropCount())
	return err
}

// logStatus logs the driver's status every interval, skipping repeats.
func logStatus(ctx context.Context, logf logger.Logf, d *ames.Driver, kern *memkernel.Kernel, interval time.Duration) {
	logf = logger.LogOnChange(logf, 10*interval, time.Now)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		v, _ := d.ProtocolVersion()
		logf("status: %v on %d, version %d, heard %d, queue %d, dropped %d",
			d.State(), d.Port(), v, kern.Heard(), d.Queue().Depth(), d.DropCount())
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
