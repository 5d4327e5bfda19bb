// SPDX-License-Identifier: AGPL-3.0-only

// Package instrument provides Prometheus instrumentation for the hub.
package instrument

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	acceptedConns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mlschat_hub_accepted_connections_total",
			Help: "Number of accepted connections",
		},
	)
	activeConns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mlschat_hub_active_connections",
			Help: "Number of currently registered connections",
		},
	)
	framesForwarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mlschat_hub_frames_forwarded_total",
			Help: "Number of frames fanned out to peer connections",
		},
	)
	framesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mlschat_hub_frames_dropped_total",
			Help: "Number of frame writes that failed",
		},
	)
)

func init() {
	prometheus.MustRegister(acceptedConns)
	prometheus.MustRegister(activeConns)
	prometheus.MustRegister(framesForwarded)
	prometheus.MustRegister(framesDropped)
}

// StartPrometheusListener exposes the registered metrics via HTTP on the
// given address.
func StartPrometheusListener(address string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(address, mux)
	}()
}

// ConnectionAccepted increments the counter for accepted connections.
func ConnectionAccepted() {
	acceptedConns.Inc()
	activeConns.Inc()
}

// ConnectionClosed decrements the active connection gauge.
func ConnectionClosed() {
	activeConns.Dec()
}

// FrameForwarded increments the counter for fanned out frames.
func FrameForwarded() {
	framesForwarded.Inc()
}

// FrameDropped increments the counter for failed frame writes.
func FrameDropped() {
	framesDropped.Inc()
}
