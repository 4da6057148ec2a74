// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package ames

import (
	"ames.network/driver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reasons an inbound or outbound packet is dropped, used as the "reason"
// label of ames_packets_dropped_total.
const (
	dropShort        = "short"
	dropVersion      = "version"
	dropHash         = "hash"
	dropMalformed    = "malformed"
	dropNotIPv4      = "not-ipv4"
	dropNoRoute      = "no-route"
	dropRouteError   = "route-error"
	dropWeirdRoute   = "weird-route"
	dropNotLive      = "not-live"
	dropLocalOnly    = "local-only"
	dropNoDomain     = "no-domain"
	dropBackoff      = "supernode-backoff"
	dropResolveError = "supernode-unresolved"
)

type metrics struct {
	received      prometheus.Counter
	dropped       *prometheus.CounterVec
	delivered     prometheus.Counter
	forwarded     prometheus.Counter
	routeQueries  prometheus.Counter
	sent          prometheus.Counter
	sendErrors    prometheus.Counter
	dnsLookups    *prometheus.CounterVec
	eventsDropped prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, q *driver.Queue) *metrics {
	f := promauto.With(reg)
	m := &metrics{
		received: f.NewCounter(prometheus.CounterOpts{
			Name: "ames_packets_received_total",
			Help: "Datagrams read from the socket.",
		}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ames_packets_dropped_total",
			Help: "Packets discarded, by reason.",
		}, []string{"reason"}),
		delivered: f.NewCounter(prometheus.CounterOpts{
			Name: "ames_packets_delivered_total",
			Help: "Inbound packets planned for local delivery.",
		}),
		forwarded: f.NewCounter(prometheus.CounterOpts{
			Name: "ames_packets_forwarded_total",
			Help: "Packets for other nodes relayed to a route from the kernel.",
		}),
		routeQueries: f.NewCounter(prometheus.CounterOpts{
			Name: "ames_route_queries_total",
			Help: "Kernel route queries issued for packets addressed to other nodes.",
		}),
		sent: f.NewCounter(prometheus.CounterOpts{
			Name: "ames_packets_sent_total",
			Help: "Datagrams written to the socket.",
		}),
		sendErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "ames_send_errors_total",
			Help: "Datagram writes that failed.",
		}),
		dnsLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ames_dns_lookups_total",
			Help: "Supernode DNS lookups, by result.",
		}, []string{"result"}),
		eventsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "ames_events_dropped_total",
			Help: "Inbound deliveries evicted from a full event queue.",
		}),
	}
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ames_queue_depth",
		Help: "Events planned and not yet consumed by the kernel.",
	}, func() float64 { return float64(q.Depth()) })
	return m
}
