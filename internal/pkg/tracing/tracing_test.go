package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init("test-service", "", 1.0)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	ctx, span := StartSpan(context.Background(), "noop")
	span.End()
	assert.Empty(t, TraceIDFromContext(ctx))
}

func TestStartSpanRecordsAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	install(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	assert.True(t, Enabled())
	ctx, span := StartSpan(context.Background(), "analysis.patterns", attribute.String("signal_id", "sig-1"))
	assert.Len(t, TraceIDFromContext(ctx), 32)
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "analysis.patterns", ended[0].Name())
	assert.Contains(t, ended[0].Attributes(), attribute.String("signal_id", "sig-1"))
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1.5).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}
