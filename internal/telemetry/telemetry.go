// Package telemetry installs the OpenTelemetry tracer provider that the git
// spans in internal/repository report to.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

const (
	serviceName    = "deploysync"
	serviceVersion = "1.0.0"

	defaultEndpoint = "localhost:4317"
)

// Exporter values accepted in Options and DEPLOYSYNC_OTEL_EXPORTER.
const (
	ExporterNone    = "none"
	ExporterConsole = "console"
	ExporterOTLP    = "otlp"
	ExporterBoth    = "both"
)

type Options struct {
	// Exporter is one of none (default), console, otlp or both.
	Exporter string
	// Endpoint is the OTLP gRPC collector address.
	Endpoint string
	// Console receives console spans. Defaults to stderr so command output
	// on stdout stays machine readable.
	Console io.Writer
}

// OptionsFromEnv reads DEPLOYSYNC_OTEL_EXPORTER and DEPLOYSYNC_OTEL_ENDPOINT.
func OptionsFromEnv() Options {
	return Options{
		Exporter: os.Getenv("DEPLOYSYNC_OTEL_EXPORTER"),
		Endpoint: os.Getenv("DEPLOYSYNC_OTEL_ENDPOINT"),
	}
}

// Setup installs a global tracer provider and returns its shutdown func,
// which flushes pending spans.
func Setup(ctx context.Context, opts Options) (func(context.Context) error, error) {
	exporter := strings.ToLower(strings.TrimSpace(opts.Exporter))
	if exporter == "" {
		exporter = ExporterNone
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporters []sdktrace.SpanExporter
	switch exporter {
	case ExporterNone:
		// Spans are still created so context propagates, but go nowhere.
	case ExporterConsole:
		exp, err := consoleExporter(opts.Console)
		if err != nil {
			return nil, err
		}
		exporters = append(exporters, exp)
	case ExporterOTLP:
		exp, err := otlpExporter(ctx, opts.Endpoint)
		if err != nil {
			return nil, err
		}
		exporters = append(exporters, exp)
	case ExporterBoth:
		console, err := consoleExporter(opts.Console)
		if err != nil {
			return nil, err
		}
		otlp, err := otlpExporter(ctx, opts.Endpoint)
		if err != nil {
			return nil, err
		}
		exporters = append(exporters, console, otlp)
	default:
		return nil, fmt.Errorf("unknown trace exporter %q (want none, console, otlp or both)", opts.Exporter)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	for _, exp := range exporters {
		tp.RegisterSpanProcessor(sdktrace.NewBatchSpanProcessor(exp))
	}
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

func consoleExporter(w io.Writer) (sdktrace.SpanExporter, error) {
	if w == nil {
		w = os.Stderr
	}
	exp, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create console exporter: %w", err)
	}
	return exp, nil
}

func otlpExporter(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	// TODO: add TLS settings for collectors outside localhost.
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	return exp, nil
}
