// Package traces wires OpenTelemetry spans around protocol operations.
//
// Spans are always created through the global tracer; without an exporter
// endpoint the global provider stays a no-op and spans cost nothing.
package traces

import (
	"context"
	"log/slog"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName  = "github.com/solace-fi/coverage"
	serviceName = "solace-coverage"
)

// Options configures the exporter.
type Options struct {
	Endpoint    string  // OTLP gRPC collector; empty disables export
	Insecure    bool    // plaintext gRPC
	SampleRatio float64 // fraction of root spans kept; 0 or >=1 keeps all
	ChainID     int64
	Version     string
}

// Shutdown flushes and stops the exporter.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Init installs a batching OTLP tracer provider as the global provider.
func Init(ctx context.Context, opts Options, logger *slog.Logger) (Shutdown, error) {
	if opts.Endpoint == "" {
		logger.Info("tracing disabled", "reason", "OTEL_EXPORTER_OTLP_ENDPOINT not set")
		return noop, nil
	}

	grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, grpcOpts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(serviceAttributes(opts)...))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(opts.SampleRatio)),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled",
		"endpoint", opts.Endpoint,
		"insecure", opts.Insecure,
		"sample_ratio", opts.SampleRatio,
	)
	return tp.Shutdown, nil
}

func serviceAttributes(opts Options) []attribute.KeyValue {
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
	}
	if opts.ChainID != 0 {
		attrs = append(attrs, attribute.Int64("chain.id", opts.ChainID))
	}
	return attrs
}

// sampler keeps child spans consistent with their parent's decision.
func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// StartSpan opens a span named name under ctx.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func Caller(addr string) attribute.KeyValue  { return attribute.String("caller.addr", addr) }
func Product(addr string) attribute.KeyValue { return attribute.String("product.addr", addr) }
func Amount(wei string) attribute.KeyValue   { return attribute.String("amount.wei", wei) }

func PolicyID(id uint64) attribute.KeyValue {
	return attribute.String("policy.id", strconv.FormatUint(id, 10))
}

func ClaimID(id uint64) attribute.KeyValue {
	return attribute.String("claim.id", strconv.FormatUint(id, 10))
}
