package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/commissions/internal/adapter"
	"gorm.io/gorm"
)

const (
	WorkerJobReasonDeadlineExceeded     = "deadline_exceeded"
	WorkerJobReasonUnknownVariant       = "unknown_variant"
	WorkerJobReasonMalformedFile        = "malformed_file"
	WorkerJobReasonDBLockTimeout        = "db_lock_timeout"
	WorkerJobReasonSerializationFailure = "serialization_failure"
	WorkerJobReasonUniqueViolation      = "unique_violation"
	WorkerJobReasonDB                   = "db"
	WorkerJobReasonUnknown              = "unknown"

	WorkerSkipReasonLocked       = "locked"
	WorkerSkipReasonAlreadyTaken = "already_claimed"
)

const (
	WorkerJobPoll    = "poll"
	WorkerJobProcess = "process"
)

// WorkerMetrics captures submission worker health signals.
type WorkerMetrics struct {
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	jobErrors   *prometheus.CounterVec
	processed   *prometheus.CounterVec
	skipped     *prometheus.CounterVec
	runLoopLag  prometheus.Observer
	inFlight    prometheus.Gauge
}

var (
	workerMetricsOnce sync.Once
	workerMetrics     *WorkerMetrics
)

// Worker returns the singleton worker metrics registry.
func Worker() *WorkerMetrics {
	return WorkerWithConfig(Config{})
}

// WorkerWithConfig returns the singleton worker metrics registry using config labels.
func WorkerWithConfig(cfg Config) *WorkerMetrics {
	workerMetricsOnce.Do(func() {
		workerMetrics = NewWorkerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return workerMetrics
}

// ResetWorkerMetricsForTest resets the worker metrics singleton for tests.
func ResetWorkerMetricsForTest() {
	workerMetricsOnce = sync.Once{}
	workerMetrics = nil
}

func NewWorkerMetrics(registerer prometheus.Registerer, cfg Config) *WorkerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "commissions"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "commissions_worker_job_runs_total",
		Help:        "Worker job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "commissions_worker_job_duration_seconds",
		Help:        "Worker job latency.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "commissions_worker_job_errors_total",
		Help:        "Worker job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "commissions_worker_submissions_processed_total",
		Help:        "Submissions processed by final status.",
		ConstLabels: constLabels,
	}, []string{"status"})
	skipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "commissions_worker_submissions_skipped_total",
		Help:        "Queued submissions skipped by reason.",
		ConstLabels: constLabels,
	}, []string{"reason"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "commissions_worker_runloop_lag_seconds",
		Help:        "Worker run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "commissions_worker_in_flight",
		Help:        "Submissions currently being processed.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(jobRuns, jobDuration, jobErrors, processed, skipped, runLoopLag, inFlight)

	return &WorkerMetrics{
		jobRuns:     jobRuns,
		jobDuration: jobDuration,
		jobErrors:   jobErrors,
		processed:   processed,
		skipped:     skipped,
		runLoopLag:  runLoopLag,
		inFlight:    inFlight,
	}
}

// IncJobRun increments the run counter for a worker job.
func (m *WorkerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records worker job latency in seconds.
func (m *WorkerMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// IncJobError increments the worker job error counter with classification.
func (m *WorkerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyWorkerJobReason(err)).Inc()
}

func (m *WorkerMetrics) IncProcessed(status string) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(status).Inc()
}

func (m *WorkerMetrics) IncSkipped(reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(reason).Inc()
}

// ProcessedCounter exposes the processed counter for status.
func (m *WorkerMetrics) ProcessedCounter(status string) prometheus.Counter {
	return m.processed.WithLabelValues(status)
}

// SkippedCounter exposes the skipped counter for reason.
func (m *WorkerMetrics) SkippedCounter(reason string) prometheus.Counter {
	return m.skipped.WithLabelValues(reason)
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *WorkerMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.runLoopLag.Observe(duration.Seconds())
}

// TrackInFlight bumps the in-flight gauge and returns its release.
func (m *WorkerMetrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}

// ClassifyWorkerJobReason maps worker job errors to low-cardinality reasons.
func ClassifyWorkerJobReason(err error) string {
	switch {
	case err == nil:
		return WorkerJobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return WorkerJobReasonDeadlineExceeded
	case errors.Is(err, adapter.ErrUnknownVariant):
		return WorkerJobReasonUnknownVariant
	case errors.Is(err, adapter.ErrMalformedFile):
		return WorkerJobReasonMalformedFile
	case hasPGCode(err, "55P03"):
		return WorkerJobReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return WorkerJobReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505"):
		return WorkerJobReasonUniqueViolation
	case isDBError(err):
		return WorkerJobReasonDB
	default:
		return WorkerJobReasonUnknown
	}
}

// IsWorkerErrorRetryable reports whether a failed submission is worth re-queuing.
func IsWorkerErrorRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return hasPGCode(err, "55P03") || hasPGCode(err, "40001")
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidField) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrInvalidValue) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
