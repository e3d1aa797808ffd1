// Package tracing wraps proxied requests in OpenTelemetry spans, grounded
// on services/router/internal/tracing/tracing.go: an exporter chosen at
// startup (stdout for local/dev, OTLP/gRPC when an endpoint is configured),
// wired through the standard otel SDK TracerProvider.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/halcyon-labs/mcpbridge/pkg/logging"
)

// Config selects the exporter and sampling behavior.
type Config struct {
	Enabled     bool
	Exporter    string // "stdout" or "otlp"
	OTLPEndpoint string
	SampleRatio float64
}

// Provider wraps the SDK TracerProvider with the one Tracer the bridge uses.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
	noop   bool
}

// New builds a Provider. When cfg.Enabled is false it returns a Provider
// backed by the global no-op tracer so call sites never branch on whether
// tracing is on.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{tracer: otel.Tracer(logging.ServiceName), noop: true}, nil
	}

	exporter, err := buildExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(logging.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 {
		ratio = 1.0
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)

	otel.SetTracerProvider(tp)

	return &Provider{tp: tp, tracer: tp.Tracer(logging.ServiceName)}, nil
}

func buildExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp":
		opts := []otlptracegrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint), otlptracegrpc.WithInsecure())
		}

		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("build otlp exporter: %w", err)
		}

		return exp, nil
	default:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("build stdout exporter: %w", err)
		}

		return exp, nil
	}
}

// StartRequestSpan wraps one proxied request, tagging it with the
// server/method/session_id attributes.
func (p *Provider) StartRequestSpan(ctx context.Context, server, method, sessionID string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "mcp.request", trace.WithAttributes(
		attrString(logging.FieldServer, server),
		attrString(logging.FieldMethod, method),
		attrString(logging.FieldSessionID, sessionID),
	))
}

func attrString(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Shutdown flushes and stops the exporter. A no-op Provider returns nil.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}

	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}

	return nil
}
