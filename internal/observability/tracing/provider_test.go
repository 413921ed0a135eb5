package tracing

import (
	"context"
	"errors"
	"testing"

	obscontext "github.com/smallbiznis/commissions/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStageSpansCarryRunAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(&runSpanProcessor{}),
		sdktrace.WithSpanProcessor(recorder),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx := obscontext.WithSubmissionID(context.Background(), 42)
	ctx = obscontext.WithRunID(ctx, "run-1")

	_, span := StartStage(ctx, "resolve_city", attribute.Int("rows", 10))
	EndStage(span, errors.New("db down"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "pipeline.resolve_city", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "42", attrs["submission_id"].AsString())
	assert.Equal(t, "run-1", attrs["run_id"].AsString())
	assert.Equal(t, int64(10), attrs["rows"].AsInt64())
}

func TestNewProviderWithoutExport(t *testing.T) {
	tp, err := NewProvider(nil, Config{ServiceName: "commissions", SamplingRatio: 2}, nil)
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestUnsupportedProtocol(t *testing.T) {
	_, err := newExporter(context.Background(), "carrier-pigeon", "")
	assert.Error(t, err)
}
