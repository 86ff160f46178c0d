package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	defer tp.Shutdown(context.Background())

	if otel.GetTracerProvider() != tp {
		t.Error("expected global tracer provider to be installed")
	}

	ctx, span := StartSpan(context.Background(), "analysis.run")
	defer span.End()
	if ctx == nil {
		t.Fatal("expected context")
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()
	if cfg.ServiceName != "medbill-server" {
		t.Errorf("unexpected service name %q", cfg.ServiceName)
	}
	if cfg.SampleRate != 0.1 {
		t.Errorf("unexpected sample rate %v", cfg.SampleRate)
	}

	cfg = Config{SampleRate: 1}
	cfg.applyDefaults()
	if cfg.SampleRate != 1 {
		t.Errorf("explicit sample rate overwritten: %v", cfg.SampleRate)
	}
}
