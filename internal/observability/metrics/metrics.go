package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes pipeline instruments.
type Metrics struct {
	submissions     metric.Int64Counter
	rowErrors       metric.Int64Counter
	committedRows   metric.Int64Counter
	committedCents  metric.Int64Counter
	stageDurationMs metric.Float64Histogram
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the pipeline metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "commissions"
	}
	meter := provider.Meter(name)

	submissions, err := meter.Int64Counter("commissions_submissions_total",
		metric.WithDescription("Submissions reaching a final status."))
	if err != nil {
		return nil, err
	}
	rowErrors, err := meter.Int64Counter("commissions_row_errors_total",
		metric.WithDescription("Rows dropped by a resolution stage."))
	if err != nil {
		return nil, err
	}
	committedRows, err := meter.Int64Counter("commissions_committed_rows_total")
	if err != nil {
		return nil, err
	}
	committedCents, err := meter.Int64Counter("commissions_committed_commission_cents_total",
		metric.WithUnit("{cent}"))
	if err != nil {
		return nil, err
	}
	stageDuration, err := meter.Float64Histogram("commissions_stage_duration_ms",
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		submissions:     submissions,
		rowErrors:       rowErrors,
		committedRows:   committedRows,
		committedCents:  committedCents,
		stageDurationMs: stageDuration,
	}, nil
}

// NewNoop returns instruments backed by a no-op provider.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

// RecordSubmission counts a submission that reached status.
func (m *Metrics) RecordSubmission(ctx context.Context, variant, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("variant", strings.TrimSpace(variant)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.submissions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRowErrors counts rows dropped under one error kind.
func (m *Metrics) RecordRowErrors(ctx context.Context, kind string, rows int) {
	if m == nil || rows <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("kind", strings.TrimSpace(kind)))
	m.rowErrors.Add(ctx, int64(rows), metric.WithAttributes(attrs...))
}

// RecordCommitted counts committed rows and their commission cents.
func (m *Metrics) RecordCommitted(ctx context.Context, variant string, rows int, commissionCents int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("variant", strings.TrimSpace(variant)))
	m.committedRows.Add(ctx, int64(rows), metric.WithAttributes(attrs...))
	if commissionCents > 0 {
		m.committedCents.Add(ctx, commissionCents, metric.WithAttributes(attrs...))
	}
}

// ObserveStage records how long one pipeline stage took.
func (m *Metrics) ObserveStage(ctx context.Context, stage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("stage", strings.TrimSpace(stage)))
	m.stageDurationMs.Record(ctx, float64(elapsed.Microseconds())/1000, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"variant": {},
	"status":  {},
	"kind":    {},
	"stage":   {},
	"reason":  {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
