// Package traces wires OpenTelemetry spans around graph loads and
// classifications. Without an OTLP endpoint every span is a no-op.
package traces

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName    = "paymo"
	serviceVersion = "0.1.0"
	tracerName     = "github.com/mbd888/paymo/internal/classifier"
)

// Span attribute keys.
const (
	KeyPayer     = attribute.Key("party.a")
	KeyPayee     = attribute.Key("party.b")
	KeyAmount    = attribute.Key("payment.amount")
	KeyDistance  = attribute.Key("graph.distance")
	KeyDuplicate = attribute.Key("payment.duplicate")
	KeyBatchSize = attribute.Key("batch.size")
)

// ShutdownFunc flushes buffered spans.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Init installs a batching OTLP/gRPC tracer provider for endpoint and the
// W3C trace-context propagator. An empty endpoint leaves the global no-op
// provider in place.
func Init(ctx context.Context, endpoint string, logger *slog.Logger) (ShutdownFunc, error) {
	if endpoint == "" {
		logger.Info("tracing disabled", "reason", "OTEL_EXPORTER_OTLP_ENDPOINT unset")
		return noopShutdown, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
	}

	res := resource.NewSchemaless(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	logger.Info("tracing enabled", "endpoint", endpoint)
	return tp.Shutdown, nil
}

// StartSpan opens a span on the global provider.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

func Payer(id string) attribute.KeyValue      { return KeyPayer.String(id) }
func Payee(id string) attribute.KeyValue      { return KeyPayee.String(id) }
func Amount(amount string) attribute.KeyValue { return KeyAmount.String(amount) }
func Distance(d int) attribute.KeyValue       { return KeyDistance.Int(d) }
func Duplicate(dup bool) attribute.KeyValue   { return KeyDuplicate.Bool(dup) }
func BatchSize(n int) attribute.KeyValue      { return KeyBatchSize.Int(n) }
