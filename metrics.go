package main

import (
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	"github.com/go-pluto/orset/node"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewReplicaMetrics returns prometheus backed metrics
// for a replica, or discarding ones if no address to
// expose them on is configured.
func NewReplicaMetrics(prometheusAddr string) *node.Metrics {

	if prometheusAddr == "" {
		return &node.Metrics{
			Adds:     discard.NewCounter(),
			Removes:  discard.NewCounter(),
			Msgs:     discard.NewCounter(),
			Syncs:    discard.NewCounter(),
			Elements: discard.NewGauge(),
			Tags:     discard.NewGauge(),
		}
	}

	return &node.Metrics{
		Adds: prometheus.NewCounterFrom(prom.CounterOpts{
			Namespace: "orset",
			Subsystem: "replica",
			Name:      "adds_total",
			Help:      "Number of local add operations",
		}, nil),
		Removes: prometheus.NewCounterFrom(prom.CounterOpts{
			Namespace: "orset",
			Subsystem: "replica",
			Name:      "removes_total",
			Help:      "Number of local remove operations",
		}, nil),
		Msgs: prometheus.NewCounterFrom(prom.CounterOpts{
			Namespace: "orset",
			Subsystem: "replica",
			Name:      "downstream_msgs_total",
			Help:      "Number of downstream messages received from peers",
		}, nil),
		Syncs: prometheus.NewCounterFrom(prom.CounterOpts{
			Namespace: "orset",
			Subsystem: "replica",
			Name:      "syncs_total",
			Help:      "Number of full states merged from peers",
		}, nil),
		Elements: prometheus.NewGaugeFrom(prom.GaugeOpts{
			Namespace: "orset",
			Subsystem: "replica",
			Name:      "elements",
			Help:      "Number of present values",
		}, nil),
		Tags: prometheus.NewGaugeFrom(prom.GaugeOpts{
			Namespace: "orset",
			Subsystem: "replica",
			Name:      "tags",
			Help:      "Number of stored tagged elements",
		}, nil),
	}
}

func runPromHTTP(logger log.Logger, addr string) {

	if addr == "" {
		level.Debug(logger).Log("msg", "prometheus addr is empty, not exposing prometheus metrics")
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	level.Info(logger).Log("msg", "prometheus handler listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		level.Warn(logger).Log("msg", "failed to serve prometheus metrics", "err", err)
	}
}
