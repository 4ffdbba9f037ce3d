// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

// Package udaotel provides OpenTelemetry instrumentation for UDA servers.
// It implements the [uda.DispatchHook] interface to add distributed tracing
// and metrics to request dispatch.
//
// Usage:
//
//	server := uda.NewServer(registry)
//	udaotel.InstrumentServer(server, udaotel.DefaultConfig())
package udaotel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ukaea/UDA-sub011/uda"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "uda"

// OtelConfig configures OpenTelemetry instrumentation for a UDA server.
type OtelConfig struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// EnableTracing enables span creation. Default true.
	EnableTracing bool
	// EnableMetrics enables counter and histogram recording. Default true.
	EnableMetrics bool
	// RecordExceptions calls RecordError on the span for failed requests.
	// Default true.
	RecordExceptions bool
	// ServiceName is the uda.service attribute value.
	// Defaults to Server.ServiceName() or "UdaServer".
	ServiceName string
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig returns an OtelConfig with tracing, metrics and exception
// recording enabled. Providers are resolved from the global OTel SDK at
// instrumentation time.
func DefaultConfig() OtelConfig {
	return OtelConfig{
		EnableTracing:    true,
		EnableMetrics:    true,
		RecordExceptions: true,
	}
}

// InstrumentServer attaches OpenTelemetry instrumentation to a UDA server.
// The hook is installed via [uda.Server.SetDispatchHook].
func InstrumentServer(server *uda.Server, cfg OtelConfig) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = server.ServiceName()
	}
	server.SetDispatchHook(NewHook(cfg))
}

// NewHook returns the instrumentation hook without installing it, for use
// with [uda.Hooks].
func NewHook(cfg OtelConfig) uda.DispatchHook {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "UdaServer"
	}

	hook := &otelHook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}

	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		hook.requestCounter, _ = meter.Int64Counter("uda.server.requests",
			metric.WithUnit("{request}"),
			metric.WithDescription("Number of UDA requests"),
		)
		hook.durationHistogram, _ = meter.Float64Histogram("uda.server.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of UDA requests"),
		)
		hook.faultCounter, _ = meter.Int64Counter("uda.server.connection_faults",
			metric.WithUnit("{connection}"),
			metric.WithDescription("Connections dropped on a stream fault"),
		)
	}
	return hook
}

type otelHook struct {
	cfg               OtelConfig
	tracer            trace.Tracer
	requestCounter    metric.Int64Counter
	durationHistogram metric.Float64Histogram
	faultCounter      metric.Int64Counter
}

// spanToken is the HookToken returned by OnDispatchStart.
type spanToken struct {
	span      trace.Span
	startTime time.Time
}

// OnDispatchStart starts a server span named after the plugin and function.
func (h *otelHook) OnDispatchStart(ctx context.Context, info uda.DispatchInfo) (context.Context, uda.HookToken) {
	if !h.cfg.EnableTracing {
		return ctx, &spanToken{startTime: time.Now()}
	}

	spanName := fmt.Sprintf("uda/%s::%s", info.Plugin, info.Function)

	attrs := []attribute.KeyValue{
		attribute.String("uda.service", h.cfg.ServiceName),
		attribute.String("uda.plugin", info.Plugin),
		attribute.String("uda.function", info.Function),
		attribute.String("uda.signal", info.Signal),
		attribute.String("uda.source", info.Source),
		attribute.Bool("uda.put", info.Put),
		attribute.Int("uda.protocol_version", info.Version),
		attribute.Int("uda.batch_index", info.BatchIndex),
		attribute.String("uda.server_id", info.ServerID),
		attribute.String("uda.conn_id", info.ConnID),
	}
	attrs = append(attrs, h.cfg.CustomAttributes...)

	ctx, span := h.tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)

	return ctx, &spanToken{span: span, startTime: time.Now()}
}

// OnDispatchEnd records metrics and span attributes, and ends the span.
func (h *otelHook) OnDispatchEnd(ctx context.Context, token uda.HookToken, info uda.DispatchInfo, stats *uda.CallStatistics, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}

	duration := time.Since(st.startTime)

	status := "ok"
	if err != nil {
		status = "error"
	}

	if h.cfg.EnableMetrics {
		metricAttrs := metric.WithAttributes(
			attribute.String("uda.service", h.cfg.ServiceName),
			attribute.String("uda.plugin", info.Plugin),
			attribute.String("uda.function", info.Function),
			attribute.String("status", status),
		)
		if h.requestCounter != nil {
			h.requestCounter.Add(ctx, 1, metricAttrs)
		}
		if h.durationHistogram != nil {
			h.durationHistogram.Record(ctx, duration.Seconds(), metricAttrs)
		}
	}

	if st.span != nil && st.span.IsRecording() {
		if stats != nil {
			st.span.SetAttributes(
				attribute.Int64("uda.input_blocks", stats.InputBlocks),
				attribute.Int64("uda.output_blocks", stats.OutputBlocks),
				attribute.Int64("uda.input_elements", stats.InputElements),
				attribute.Int64("uda.output_elements", stats.OutputElements),
				attribute.Int64("uda.input_bytes", stats.InputBytes),
				attribute.Int64("uda.output_bytes", stats.OutputBytes),
			)
		}

		if err != nil {
			st.span.SetStatus(codes.Error, err.Error())
			if h.cfg.RecordExceptions {
				st.span.RecordError(err)
			}
			code := "unknown"
			var pe *uda.ProtocolError
			if errors.As(err, &pe) {
				code = strconv.Itoa(pe.Code)
			}
			st.span.SetAttributes(attribute.String("uda.error_code", code))
		} else {
			st.span.SetStatus(codes.Ok, "")
		}

		st.span.End()
	}
}

// OnConnectionFault counts a connection the server dropped.
func (h *otelHook) OnConnectionFault(info uda.ConnectionInfo, err error) {
	if !h.cfg.EnableMetrics || h.faultCounter == nil {
		return
	}
	h.faultCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("uda.service", h.cfg.ServiceName),
		attribute.String("uda.error_class", uda.Class(err).String()),
	))
}
