package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestSetup_Console(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Setup(context.Background(), Options{Exporter: "Console", Console: &buf})
	if err != nil {
		t.Fatalf("Setup() unexpected error: %v", err)
	}

	_, span := otel.Tracer("deploysync/test").Start(context.Background(), "git.Fetch")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error: %v", err)
	}
	if !strings.Contains(buf.String(), "git.Fetch") {
		t.Errorf("console exporter output missing span name:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), serviceName) {
		t.Errorf("console exporter output missing service name:\n%s", buf.String())
	}
}

func TestSetup_None(t *testing.T) {
	shutdown, err := Setup(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Setup() unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error: %v", err)
	}
}

func TestSetup_UnknownExporter(t *testing.T) {
	if _, err := Setup(context.Background(), Options{Exporter: "zipkin"}); err == nil {
		t.Error("Setup() expected error for unknown exporter")
	}
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("DEPLOYSYNC_OTEL_EXPORTER", "otlp")
	t.Setenv("DEPLOYSYNC_OTEL_ENDPOINT", "collector:4317")

	got := OptionsFromEnv()
	if got.Exporter != "otlp" || got.Endpoint != "collector:4317" {
		t.Errorf("OptionsFromEnv() = %+v", got)
	}
}
