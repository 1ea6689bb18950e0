package otel

import (
	"context"
	"testing"

	"confio/config"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" api-key = abc ,broken, =x,tenant=confio")
	if len(got) != 2 || got["api-key"] != "abc" || got["tenant"] != "confio" {
		t.Fatalf("unexpected headers: %v", got)
	}
}

func TestFromTelemetryDisabledWithoutEndpoint(t *testing.T) {
	cfg := FromTelemetry("confioctl", "dev", config.Telemetry{})
	if cfg.Traces || cfg.Metrics {
		t.Fatalf("expected telemetry disabled without endpoint")
	}
	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without service name")
	}
}

func TestFromTelemetryEnabled(t *testing.T) {
	cfg := FromTelemetry("confio-devnet", "prod", config.Telemetry{Endpoint: "collector:4318", Headers: "a=b"})
	if !cfg.Traces || !cfg.Metrics || cfg.Headers["a"] != "b" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
