// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is a DispatchHook exporting request counters to Prometheus. It
// owns its registry so several servers in one process do not collide.
type Metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	bytesIn  prometheus.Counter
	bytesOut prometheus.Counter
	elements *prometheus.CounterVec
	errors   *prometheus.CounterVec
	faults   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them together with the
// Go runtime collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "uda",
				Subsystem: "server",
				Name:      "requests_total",
				Help:      "Total number of requests served",
			},
			[]string{"plugin", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "uda",
				Subsystem: "server",
				Name:      "duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"plugin"},
		),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "uda",
			Subsystem: "server",
			Name:      "received_bytes_total",
			Help:      "Wire bytes received in request cycles",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "uda",
			Subsystem: "server",
			Name:      "sent_bytes_total",
			Help:      "Wire bytes sent in request cycles",
		}),
		elements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "uda",
				Subsystem: "server",
				Name:      "elements_total",
				Help:      "Data elements received and returned",
			},
			[]string{"direction"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "uda",
				Subsystem: "server",
				Name:      "errors_total",
				Help:      "Failed requests by error code",
			},
			[]string{"code"},
		),
		faults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "uda",
				Subsystem: "server",
				Name:      "connection_faults_total",
				Help:      "Connections dropped on a stream fault, by error class",
			},
			[]string{"class"},
		),
	}
	m.registry.MustRegister(
		m.requests, m.duration, m.bytesIn, m.bytesOut, m.elements, m.errors, m.faults,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// OnDispatchStart returns the start time as token.
func (m *Metrics) OnDispatchStart(ctx context.Context, _ DispatchInfo) (context.Context, HookToken) {
	return ctx, time.Now()
}

// OnDispatchEnd records the request.
func (m *Metrics) OnDispatchEnd(_ context.Context, token HookToken, info DispatchInfo, stats *CallStatistics, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		code := "unknown"
		var pe *ProtocolError
		if errors.As(err, &pe) {
			code = strconv.Itoa(pe.Code)
		}
		m.errors.WithLabelValues(code).Inc()
	}
	m.requests.WithLabelValues(info.Plugin, status).Inc()
	if start, ok := token.(time.Time); ok {
		m.duration.WithLabelValues(info.Plugin).Observe(time.Since(start).Seconds())
	}
	if stats != nil {
		m.bytesIn.Add(float64(stats.InputBytes))
		m.bytesOut.Add(float64(stats.OutputBytes))
		m.elements.WithLabelValues("in").Add(float64(stats.InputElements))
		m.elements.WithLabelValues("out").Add(float64(stats.OutputElements))
	}
}

// OnConnectionFault counts a dropped connection.
func (m *Metrics) OnConnectionFault(_ ConnectionInfo, err error) {
	m.faults.WithLabelValues(Class(err).String()).Inc()
}
