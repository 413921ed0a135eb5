package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/commissions/internal/observability/logger"
	"github.com/smallbiznis/commissions/internal/observability/metrics"
	"github.com/smallbiznis/commissions/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		provideLoggerConfig,
		logger.New,
		provideTracingConfig,
		tracing.NewProvider,
		provideMetricsConfig,
		metrics.NewProvider,
		metrics.New,
		provideWorkerMetrics,
		providePushConfig,
		metrics.NewPusher,
	),
	fx.Invoke(ensureTracingProvider, startMetricsPush),
)

func ensureTracingProvider(_ *sdktrace.TracerProvider) {}

func provideLoggerConfig(cfg Config) logger.Config {
	return logger.Config{
		ServiceName:         cfg.ServiceName,
		Environment:         cfg.Environment,
		Version:             cfg.Version,
		Level:               cfg.LogLevel,
		Format:              cfg.LogFormat,
		Debug:               cfg.Debug(),
		IncludeCaller:       true,
		IncludeStackOnError: cfg.Debug(),
	}
}

func provideTracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.OtelEnabled,
		ServiceName:      cfg.ServiceName,
		ServiceVersion:   cfg.Version,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		SamplingRatio:    cfg.OtelSamplingRatio,
	}
}

func provideMetricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.OtelEnabled,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		ServiceName:      cfg.ServiceName,
		Environment:      cfg.Environment,
	}
}

func provideWorkerMetrics(cfg metrics.Config) *metrics.WorkerMetrics {
	return metrics.WorkerWithConfig(cfg)
}

func providePushConfig(cfg Config) metrics.PushConfig {
	return metrics.PushConfig{
		Exporter:  cfg.MetricsPushExporter,
		Endpoint:  cfg.MetricsPushEndpoint,
		AuthToken: cfg.MetricsPushToken,
		Interval:  cfg.MetricsPushInterval,
		Job:       cfg.ServiceName,
		Labels:    map[string]string{"environment": cfg.Environment},
	}
}

func startMetricsPush(lc fx.Lifecycle, cfg metrics.PushConfig, pusher metrics.Pusher, log *zap.Logger) {
	metrics.StartPushLoop(lc, pusher, prometheus.DefaultGatherer, cfg.Interval, log)
}
