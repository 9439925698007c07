// Package traces configures OpenTelemetry export and names the span
// attributes the engine records.
package traces

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName  = "github.com/mbd888/agentregistry"
	serviceName = "agentregistry"
)

// Shutdown flushes and stops the exporter.
type Shutdown func(context.Context) error

// Settings selects the collector and sampling.
type Settings struct {
	Endpoint    string  // host:port of an OTLP gRPC collector; empty disables export
	Version     string  // reported as service.version
	SampleRatio float64 // fraction of root spans kept; parents are always honored
	Insecure    bool
}

// Init installs the global tracer provider. With no endpoint nothing is
// installed and spans are no-ops.
func Init(ctx context.Context, s Settings, logger *slog.Logger) (Shutdown, error) {
	if s.Endpoint == "" {
		logger.Debug("tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(s.Endpoint)}
	if s.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(s.Version),
	))
	if err != nil {
		return nil, errors.Join(err, exporter.Shutdown(ctx))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(s.SampleRatio))),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "endpoint", s.Endpoint, "sample_ratio", s.SampleRatio)
	return tp.Shutdown, nil
}

// StartSpan opens a span on the registry tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// Attribute keys.
const (
	KeyOperation  = attribute.Key("registry.operation")
	KeyCaller     = attribute.Key("registry.caller")
	KeyResult     = attribute.Key("registry.result")
	KeyOwner      = attribute.Key("agent.owner")
	KeyReputation = attribute.Key("agent.reputation")
	KeyAmount     = attribute.Key("amount")
)

func Operation(op string) attribute.KeyValue { return KeyOperation.String(op) }

func Caller(addr common.Address) attribute.KeyValue { return KeyCaller.String(addr.Hex()) }

func AgentOwner(addr common.Address) attribute.KeyValue { return KeyOwner.String(addr.Hex()) }

func Result(code string) attribute.KeyValue { return KeyResult.String(code) }

// Amount and Reputation are strings: an int64 attribute cannot hold every
// uint64.
func Amount(v uint64) attribute.KeyValue { return KeyAmount.String(strconv.FormatUint(v, 10)) }

func Reputation(v uint64) attribute.KeyValue {
	return KeyReputation.String(strconv.FormatUint(v, 10))
}
