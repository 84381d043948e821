package tracer

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"taskrails/internal/domain"
	"taskrails/internal/infra/config"
)

func resetProvider(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })
}

func TestSetupNoop(t *testing.T) {
	cfgs := []config.TracerConfig{
		{Enabled: false, Exporter: "stdout"},
		{Enabled: true, Exporter: "noop"},
		{Enabled: true},
	}
	for _, cfg := range cfgs {
		shutdown, err := Setup(context.Background(), cfg, "test")
		require.NoError(t, err)
		assert.IsType(t, noop.TracerProvider{}, otel.GetTracerProvider(), "%+v", cfg)
		assert.NoError(t, shutdown(context.Background()))
	}
}

func TestSetupUnsupportedExporter(t *testing.T) {
	_, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "jaeger"}, "test")
	assert.ErrorContains(t, err, "jaeger")
}

func TestRPCSpansExported(t *testing.T) {
	resetProvider(t)
	var buf bytes.Buffer
	shutdown, err := SetupWithWriter(context.Background(),
		config.TracerConfig{Enabled: true, Exporter: "stdout"}, "1.2.3", &buf)
	require.NoError(t, err)

	_, span := StartRPC(context.Background(), domain.Request{Method: "tools/list", ID: json.RawMessage(`4`)})
	EndRPC(span, nil)

	_, span = StartRPC(context.Background(), domain.Request{Method: "tools/call"})
	EndRPC(span, domain.NewRPCError(domain.CodeInvalidParams, "Unknown tool: bogus"))

	// Shutdown flushes the batcher.
	require.NoError(t, shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, `"rpc tools/list"`)
	assert.Contains(t, out, `"rpc tools/call"`)
	assert.Contains(t, out, "rpc.jsonrpc.request_id")
	assert.Contains(t, out, "Unknown tool: bogus")
	assert.Contains(t, out, "1.2.3")
}

func TestRPCHelpersWithNoopProvider(t *testing.T) {
	otel.SetTracerProvider(noop.NewTracerProvider())

	ctx, span := StartRPC(context.Background(), domain.Request{Method: "initialize"})
	require.NotNil(t, ctx)
	EndRPC(span, domain.NewRPCError(domain.CodeInternalError, "boom"))
	assert.False(t, span.IsRecording())
}
