// Package tracing wires the process-wide OpenTelemetry pipeline: an optional
// OTLP exporter plus the span helpers used around pipeline stages and
// collaborator calls.
package tracing

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/finsight-lab/finsight/internal/config"
)

// tracer resolves through the otel global delegate, so a handle taken here at
// package load upgrades to the real provider once Initialize installs one.
// Until then every span is a no-op.
var tracer = otel.Tracer("finsight")

var provider atomic.Pointer[trace.TracerProvider]

// Initialize installs the OTLP trace provider when tracing is enabled. The
// span helpers work either way; disabled tracing just keeps them no-ops.
func Initialize(cfg config.TracingConfig, logger *zap.Logger) error {
	if !cfg.Enabled {
		logger.Info("Tracing disabled")
		return nil
	}
	name := cfg.ServiceName
	if name == "" {
		name = "finsight"
	}
	endpoint := cfg.OTLPEndpoint
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	exporter, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("create OTLP exporter: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(resource.NewSchemaless(
			semconv.ServiceName(name),
			semconv.ServiceVersion("1.0.0"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	provider.Store(tp)

	logger.Info("Tracing initialized",
		zap.String("service", name),
		zap.String("endpoint", endpoint))
	return nil
}

// Shutdown flushes buffered spans. No-op when tracing never started.
func Shutdown(ctx context.Context) error {
	if tp := provider.Load(); tp != nil {
		return tp.Shutdown(ctx)
	}
	return nil
}

// StartSpan opens a span for one pipeline stage or collaborator call.
func StartSpan(ctx context.Context, name string) (context.Context, oteltrace.Span) {
	return tracer.Start(ctx, name)
}

// StartHTTPSpan opens a client span for an outbound HTTP call.
func StartHTTPSpan(ctx context.Context, method, url string) (context.Context, oteltrace.Span) {
	return tracer.Start(ctx, "HTTP "+method,
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(method),
			semconv.URLFull(url),
		),
	)
}

// InjectTraceparent stamps the active span context onto an outbound request
// as a W3C traceparent header.
func InjectTraceparent(ctx context.Context, req *http.Request) {
	propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(req.Header))
}
