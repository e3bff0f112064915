package telemetry

import (
	"context"
	"testing"

	"aegis/internal/config"
)

func TestNewProviderDisabledReturnsNoopTracer(t *testing.T) {
	p, err := NewProvider(config.TelemetryConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if p.Enabled() {
		t.Fatal("expected a disabled provider to report Enabled() == false")
	}
	if p.Tracer() == nil {
		t.Fatal("expected a non-nil fallback tracer")
	}
}

func TestNewProviderUnknownExporterFallsBackToNoop(t *testing.T) {
	p, err := NewProvider(config.TelemetryConfig{Enabled: true, Exporter: "none"})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if p.Enabled() {
		t.Fatal("expected the \"none\" exporter to leave tracing disabled")
	}
}

func TestStartAndEndRequestSpanDoesNotPanic(t *testing.T) {
	p := NoopProvider()
	ctx, span := p.StartRequestSpan(context.Background(), "conn-1", "api.openai.com")
	p.EndRequestSpan(span, "default", "Allow", 12, nil)
	if ctx == nil {
		t.Fatal("expected a non-nil context back from StartRequestSpan")
	}
}

func TestShutdownOnNoopProviderIsSafe(t *testing.T) {
	p := NoopProvider()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown on a noop provider should be a no-op, got %v", err)
	}
}
