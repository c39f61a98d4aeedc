package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestNewProviders_EmptyEndpoint(t *testing.T) {
	ctx := context.Background()
	for _, endpoint := range []string{"", "   "} {
		providers, err := NewProviders(ctx, Config{Endpoint: endpoint, ServiceName: "auth-test"}, nil)
		if err != nil {
			t.Fatalf("NewProviders(%q): %v", endpoint, err)
		}
		if providers.TracerProvider == nil || providers.MeterProvider == nil || providers.LoggerProvider == nil {
			t.Fatalf("NewProviders(%q) returned nil provider: %+v", endpoint, providers)
		}
		if err := providers.Shutdown(ctx); err != nil {
			t.Errorf("shutdown should be a no-op without an endpoint, got %v", err)
		}
	}
}

func TestNewProviders_InvalidEndpoint(t *testing.T) {
	ctx := context.Background()
	for _, endpoint := range []string{"http://[invalid", "http://", "https://"} {
		if _, err := NewProviders(ctx, Config{Endpoint: endpoint, ServiceName: "auth-test"}, nil); err == nil {
			t.Errorf("NewProviders(%q): expected error", endpoint)
		}
	}
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		override bool
		target   string
		insecure bool
	}{
		{"localhost:4317", false, "localhost:4317", true},
		{"http://collector:4317", false, "collector:4317", true},
		{"https://collector:4317/v1/traces", false, "collector:4317", false},
		{"https://collector:4317", true, "collector:4317", true},
	}
	for _, tt := range tests {
		target, insecure, err := parseEndpoint(tt.endpoint, tt.override)
		if err != nil {
			t.Fatalf("parseEndpoint(%q): %v", tt.endpoint, err)
		}
		if target != tt.target || insecure != tt.insecure {
			t.Errorf("parseEndpoint(%q, %v) = %q, %v; want %q, %v", tt.endpoint, tt.override, target, insecure, tt.target, tt.insecure)
		}
	}
}

func TestNewProviders_ValidEndpoint(t *testing.T) {
	ctx := context.Background()
	providers, err := NewProviders(ctx, Config{Endpoint: "http://localhost:4317", ServiceName: "auth-test", ServiceVersion: "dev"}, nil)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	// Exporters dial lazily; shutdown may report the missing collector.
	_ = providers.Shutdown(ctx)
}

func TestProviders_SetGlobal(t *testing.T) {
	ctx := context.Background()
	providers, err := NewProviders(ctx, Config{}, nil)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})

	providers.SetGlobal()
	if otel.GetTracerProvider() != providers.TracerProvider {
		t.Error("global TracerProvider not set")
	}
	if otel.GetMeterProvider() != providers.MeterProvider {
		t.Error("global MeterProvider not set")
	}
}
