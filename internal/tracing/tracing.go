// Package tracing installs the global OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"transitcal/internal/config"
	appLog "transitcal/internal/log"
)

const ServiceName = "transitcal"

// Version is set at build time via -ldflags.
var Version = "dev"

// Init exports spans over OTLP/HTTP when cfg.Enabled. The returned function
// flushes and stops the provider; it is a no-op when tracing is off.
func Init(ctx context.Context, cfg config.TracingConfig) (func(context.Context), error) {
	noop := func(context.Context) {}
	if !cfg.Enabled {
		return noop, nil
	}

	opts, err := exporterOptions(cfg)
	if err != nil {
		return noop, err
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		appLog.Warn("otlp exporter unavailable, tracing disabled", "err", err)
		return noop, nil
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(Version),
			semconv.ServiceInstanceID(instanceID()),
		),
	)
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	appLog.Info("tracing enabled", "endpoint", cfg.Endpoint)

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			appLog.Error("tracer provider shutdown failed", err)
		}
	}, nil
}

func exporterOptions(cfg config.TracingConfig) ([]otlptracehttp.Option, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid tracing endpoint %q", cfg.Endpoint)
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(u.Host)}
	if u.Path != "" && u.Path != "/" {
		opts = append(opts, otlptracehttp.WithURLPath(u.Path))
	}
	if cfg.Insecure || u.Scheme == "http" {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts, nil
}

func instanceID() string {
	if id := os.Getenv("OTEL_SERVICE_INSTANCE_ID"); id != "" {
		return id
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fmt.Sprintf("%s-%d", ServiceName, os.Getpid())
}
