// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/ukaea/UDA-sub011/testplugin"
	"github.com/ukaea/UDA-sub011/uda"
	udaotel "github.com/ukaea/UDA-sub011/uda/otel"
)

type options struct {
	configPath  string
	listen      string
	unixPath    string
	stdio       bool
	metricsAddr string
	otel        bool
	debugErrors bool
}

func parseFlags() *options {
	o := &options{}
	flag.StringVar(&o.configPath, "config", os.Getenv("UDA_CONFIG"), "YAML configuration file (env: UDA_CONFIG)")
	flag.StringVar(&o.listen, "listen", "", "TCP address to listen on; defaults to :port from the configuration")
	flag.StringVar(&o.unixPath, "unix", "", "serve on a unix socket at this path instead of TCP")
	flag.BoolVar(&o.stdio, "stdio", false, "serve a single connection on stdin/stdout")
	flag.StringVar(&o.metricsAddr, "metrics", "", "address for the Prometheus /metrics endpoint; empty disables it")
	flag.BoolVar(&o.otel, "otel", false, "export OpenTelemetry spans and metrics to stderr")
	flag.BoolVar(&o.debugErrors, "debug-errors", false, "append stack traces to plugin errors")
	flag.Parse()
	return o
}

func main() {
	if err := run(parseFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "uda-testplugin-server: %v\n", err)
		os.Exit(1)
	}
}

func run(o *options) error {
	cfg, err := uda.Loader{Path: o.configPath}.Load()
	if err != nil {
		return err
	}
	// Logs go to stderr so that stdio mode keeps stdout for the protocol.
	logger := uda.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	registry := uda.NewRegistry()
	testplugin.RegisterPlugins(registry)

	server := uda.NewServer(registry)
	server.SetServerID(uuid.NewString())
	server.SetServiceName("uda-testplugin-server")
	server.SetDebugErrors(o.debugErrors)
	server.SetWorkDir(cfg.WorkDir)
	server.SetLogger(logger)
	if e, forced := cfg.ServerEmbedding(); forced {
		server.SetEmbedding(e)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var hooks []uda.DispatchHook
	if o.metricsAddr != "" {
		metrics := uda.NewMetrics()
		hooks = append(hooks, metrics)
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: o.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "err", err)
			}
		}()
		defer srv.Shutdown(context.Background())
	}
	if o.otel {
		hook, shutdown, err := stdoutTelemetry(server.ServiceName())
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
		hooks = append(hooks, hook)
	}
	if len(hooks) > 0 {
		server.SetDispatchHook(uda.Hooks(hooks...))
	}

	switch {
	case o.stdio:
		server.RunStdio()
		return nil
	case o.unixPath != "":
		os.Remove(o.unixPath)
		l, err := net.Listen("unix", o.unixPath)
		if err != nil {
			return fmt.Errorf("listen on unix socket: %w", err)
		}
		defer os.Remove(o.unixPath)
		fmt.Printf("UNIX:%s\n", o.unixPath)
		os.Stdout.Sync()
		return server.ServeListener(ctx, l)
	default:
		addr := o.listen
		if addr == "" {
			addr = ":" + strconv.Itoa(cfg.Port)
		}
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		fmt.Printf("PORT:%d\n", l.Addr().(*net.TCPAddr).Port)
		os.Stdout.Sync()
		return server.ServeListener(ctx, l)
	}
}

// stdoutTelemetry builds providers that write spans and metrics to stderr
// and returns the instrumentation hook.
func stdoutTelemetry(service string) (uda.DispatchHook, func(context.Context) error, error) {
	spanExporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return nil, nil, fmt.Errorf("trace exporter: %w", err)
	}
	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
	if err != nil {
		return nil, nil, fmt.Errorf("metric exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(spanExporter))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))

	cfg := udaotel.DefaultConfig()
	cfg.TracerProvider = tp
	cfg.MeterProvider = mp
	cfg.ServiceName = service
	shutdown := func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}
	return udaotel.NewHook(cfg), shutdown, nil
}
