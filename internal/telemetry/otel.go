// Package telemetry wires an OpenTelemetry tracer provider for the MITM
// Proxy and Decision API, with graceful degradation to a no-op tracer
// when tracing is disabled or no known exporter is selected. An exporter
// that fails to construct is returned as an error.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"aegis/internal/config"
)

// Provider manages OpenTelemetry tracing for a single Aegis process.
type Provider struct {
	cfg      config.TelemetryConfig
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// NewProvider creates a tracer provider from cfg. An unknown or "none"
// exporter, or cfg.Enabled == false, yields a Provider backed by the
// global no-op tracer rather than an error — tracing is observability,
// never a hard dependency for serving traffic.
func NewProvider(cfg config.TelemetryConfig) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{cfg: cfg, tracer: otel.Tracer("aegis")}, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "aegis"
	}

	slog.Info("telemetry: creating exporter", "type", cfg.Exporter)

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Exporter {
	case "otlp":
		exporter, err = createOTLPExporter(cfg)
		if err != nil {
			return nil, err
		}
		slog.Info("telemetry: otlp exporter initialized", "endpoint", cfg.Endpoint)
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			slog.Error("telemetry: stdout exporter creation failed", "error", err)
			return nil, err
		}
		slog.Info("telemetry: stdout exporter initialized")
	default:
		return &Provider{cfg: cfg, tracer: otel.Tracer("aegis")}, nil
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter), // sync exporter keeps this simple; Aegis's traffic volume is per-device, not per-datacenter
	)
	otel.SetTracerProvider(tp)

	return &Provider{cfg: cfg, tracer: tp.Tracer("aegis"), provider: tp}, nil
}

func createOTLPExporter(cfg config.TelemetryConfig) (sdktrace.SpanExporter, error) {
	ctx := context.Background()
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

// Tracer returns the tracer for creating spans.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Shutdown gracefully shuts down the underlying tracer provider, if any.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider != nil {
		return p.provider.Shutdown(ctx)
	}
	return nil
}

// Enabled reports whether a real exporter is wired (as opposed to the
// no-op fallback).
func (p *Provider) Enabled() bool {
	return p.cfg.Enabled && p.provider != nil
}

// Span attribute keys used across the proxy and Decision API.
const (
	AttrConnID      = "aegis.conn.id"
	AttrHost        = "aegis.host"
	AttrAction      = "aegis.verdict.action"
	AttrCategory    = "aegis.verdict.category"
	AttrTier        = "aegis.verdict.tier"
	AttrProfileID   = "aegis.profile.id"
	AttrLatencyMS   = "aegis.latency_ms"
	AttrRequestPath = "url.path"
)

// StartRequestSpan starts a span around one proxied request's
// extract -> classify -> evaluate pipeline.
func (p *Provider) StartRequestSpan(ctx context.Context, connID, host string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "proxy.request",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String(AttrConnID, connID),
			attribute.String(AttrHost, host),
		),
	)
}

// EndRequestSpan records the verdict reached for the span's request and
// ends it.
func (p *Provider) EndRequestSpan(span trace.Span, profileID string, action string, latencyMS int64, err error) {
	span.SetAttributes(
		attribute.String(AttrProfileID, profileID),
		attribute.String(AttrAction, action),
		attribute.Int64(AttrLatencyMS, latencyMS),
	)
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// RecordVerdict adds a verdict event to the current span, for components
// that don't own a request span of their own but still want the
// classification recorded on whatever span is in context. Nothing in
// this repository calls it; the Decision API's /api/check does not.
func RecordVerdict(ctx context.Context, action string, category string, tier string) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent("verdict",
		trace.WithAttributes(
			attribute.String(AttrAction, action),
			attribute.String(AttrCategory, category),
			attribute.String(AttrTier, tier),
		),
	)
}

// NoopProvider returns a Provider that does nothing, for tests and
// components that run without a configured telemetry backend.
func NoopProvider() *Provider {
	return &Provider{cfg: config.TelemetryConfig{Enabled: false}, tracer: otel.Tracer("aegis-noop")}
}
