package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("kind", "CityNotFound"),
		attribute.String("submission_id", "456"),
		attribute.String("variant", "acme-csv"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "kind" && attrs[1].Key != "kind" {
		t.Fatalf("expected kind to be retained")
	}
	if attrs[0].Key != "variant" && attrs[1].Key != "variant" {
		t.Fatalf("expected variant to be retained")
	}
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestPipelineInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(Config{ServiceName: "commissions-test"}, provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordSubmission(ctx, "acme-csv", "COMPLETE")
	m.RecordRowErrors(ctx, "CityNotFound", 3)
	m.RecordRowErrors(ctx, "CityNotFound", 0)
	m.RecordCommitted(ctx, "acme-csv", 7, 700)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.Equal(t, int64(1), sumOf(t, rm, "commissions_submissions_total"))
	assert.Equal(t, int64(3), sumOf(t, rm, "commissions_row_errors_total"))
	assert.Equal(t, int64(7), sumOf(t, rm, "commissions_committed_rows_total"))
	assert.Equal(t, int64(700), sumOf(t, rm, "commissions_committed_commission_cents_total"))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordSubmission(context.Background(), "x", "FAILED")
	m.RecordRowErrors(context.Background(), "x", 1)
	m.RecordCommitted(context.Background(), "x", 1, 1)
	assert.NotNil(t, NewNoop())
}
