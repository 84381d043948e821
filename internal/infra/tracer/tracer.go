// Package tracer configures OpenTelemetry tracing for the control plane.
package tracer

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"taskrails/internal/domain"
	"taskrails/internal/infra/config"
)

const tracerName = "taskrails"

// Span attribute keys for JSON-RPC calls.
const (
	AttrRPCMethod    = attribute.Key("rpc.method")
	AttrRPCID        = attribute.Key("rpc.jsonrpc.request_id")
	AttrRPCErrorCode = attribute.Key("rpc.jsonrpc.error_code")
	AttrNotification = attribute.Key("rpc.jsonrpc.notification")
)

// Setup installs the global TracerProvider and returns its shutdown
// function. Disabled tracing and the "noop" exporter install a noop
// provider. The stdout exporter writes to stderr so spans never mix with
// a stdio protocol stream.
func Setup(ctx context.Context, cfg config.TracerConfig, version string) (func(context.Context) error, error) {
	return SetupWithWriter(ctx, cfg, version, os.Stderr)
}

// SetupWithWriter is Setup with an explicit exporter destination.
func SetupWithWriter(_ context.Context, cfg config.TracerConfig, version string, w io.Writer) (func(context.Context) error, error) {
	if !cfg.Enabled || cfg.Exporter == "" || cfg.Exporter == "noop" {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}
	if cfg.Exporter != "stdout" {
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}

	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", tracerName),
			attribute.String("service.version", version),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// StartRPC opens a server span named after the request method.
func StartRPC(ctx context.Context, req domain.Request) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		AttrRPCMethod.String(req.Method),
		AttrNotification.Bool(req.IsNotification()),
	}
	if !req.IsNotification() {
		attrs = append(attrs, AttrRPCID.String(string(req.ID)))
	}
	return otel.Tracer(tracerName).Start(ctx, "rpc "+req.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
}

// EndRPC sets the span status from rpcErr and ends the span.
func EndRPC(span trace.Span, rpcErr *domain.RPCError) {
	if rpcErr != nil {
		span.SetAttributes(AttrRPCErrorCode.Int(rpcErr.Code))
		span.RecordError(rpcErr)
		span.SetStatus(codes.Error, rpcErr.Message)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
