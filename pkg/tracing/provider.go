package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ramsey-B/pricewise/pkg/tracing/exporters"
)

// ProviderConfig configures the global tracer provider.
type ProviderConfig struct {
	ServiceName    string
	ServiceVersion string
	// OTLP is nil when spans should not leave the process.
	OTLP *exporters.OTLPConfig
}

// Setup installs a global tracer provider and the package tracer. The
// returned func flushes and shuts the provider down.
func Setup(ctx context.Context, cfg ProviderConfig) (func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter = &exporters.ConsoleExporter{}
	if cfg.OTLP != nil {
		otlpExporter, err := exporters.NewOTLPExporter(ctx, *cfg.OTLP)
		if err != nil {
			return nil, err
		}
		exporter = otlpExporter
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	SetTracer(provider.Tracer(cfg.ServiceName))

	return provider.Shutdown, nil
}
