package telemetry

import (
	"context"
	"errors"
	"testing"
)

func TestInitWithoutExporterIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "agora", Exporter: "none"})
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

func TestInitRejectsUnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{ServiceName: "agora", Exporter: "zipkin"})
	if !errors.Is(err, ErrUnknownExporter) {
		t.Fatalf("expected unknown exporter error, got %v", err)
	}
}
