package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/commissions/internal/clock"
	"github.com/smallbiznis/commissions/internal/commission/domain"
	"github.com/smallbiznis/commissions/internal/config"
	obscontext "github.com/smallbiznis/commissions/internal/observability/context"
	obslogger "github.com/smallbiznis/commissions/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/commissions/internal/observability/metrics"
	"github.com/smallbiznis/commissions/internal/pipeline"
	"github.com/smallbiznis/commissions/internal/storage"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrSourceUnavailable = errors.New("source_file_unavailable")

// Processor runs one registered submission.
type Processor interface {
	Process(ctx context.Context, submissionID snowflake.ID, file io.Reader) (pipeline.Summary, error)
}

type Params struct {
	fx.In

	Repo      domain.Repository
	Processor Processor
	Files     storage.FileStore
	Locker    *Locker                   `optional:"true"`
	Metrics   *obsmetrics.WorkerMetrics `optional:"true"`
	Clock     clock.Clock               `optional:"true"`
	Config    config.WorkerConfig
	Log       *zap.Logger
}

// Worker polls QUEUED submissions and runs them through the pipeline with
// bounded concurrency.
type Worker struct {
	repo      domain.Repository
	processor Processor
	files     storage.FileStore
	locker    *Locker
	metrics   *obsmetrics.WorkerMetrics
	clock     clock.Clock
	cfg       config.WorkerConfig
	log       *zap.Logger
}

func New(p Params) *Worker {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Worker{
		repo:      p.Repo,
		processor: p.Processor,
		files:     p.Files,
		locker:    p.Locker,
		metrics:   p.Metrics,
		clock:     clk,
		cfg:       withDefaults(p.Config),
		log:       p.Log.Named("worker").With(zap.String("component", "worker")),
	}
}

func withDefaults(cfg config.WorkerConfig) config.WorkerConfig {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return cfg
}

// RunOnce processes one batch of queued submissions. Failures of
// individual submissions are joined into the returned error.
func (w *Worker) RunOnce(ctx context.Context) error {
	start := w.clock.Now()
	w.metrics.IncJobRun(obsmetrics.WorkerJobPoll)
	defer func() {
		w.metrics.ObserveJobDuration(obsmetrics.WorkerJobPoll, w.clock.Now().Sub(start))
	}()

	queued, err := w.repo.ListQueuedSubmissions(ctx, w.cfg.BatchSize)
	if err != nil {
		w.metrics.IncJobError(obsmetrics.WorkerJobPoll, err)
		return fmt.Errorf("list queued submissions: %w", err)
	}
	if len(queued) == 0 {
		return nil
	}
	w.log.Debug("queued submissions found", zap.Int("count", len(queued)))

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for _, submission := range queued {
		submission := submission
		g.Go(func() error {
			if err := w.processOne(gctx, submission); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (w *Worker) processOne(ctx context.Context, submission domain.Submission) error {
	ctx = obscontext.WithSubmissionID(ctx, submission.ID.Int64())
	ctx = obscontext.WithVariant(ctx, submission.ReportVariant)
	log := obslogger.WithContext(ctx, w.log)

	lockName := "submission:" + submission.ID.String()
	if w.locker != nil {
		token, ok, err := w.locker.TryLock(ctx, lockName, w.cfg.LockTTL)
		if err != nil {
			w.metrics.IncJobError(obsmetrics.WorkerJobProcess, err)
			return fmt.Errorf("lock submission %s: %w", submission.ID, err)
		}
		if !ok {
			w.metrics.IncSkipped(obsmetrics.WorkerSkipReasonLocked)
			log.Debug("submission locked by another worker")
			return nil
		}
		defer func() {
			if err := w.locker.Release(context.WithoutCancel(ctx), lockName, token); err != nil {
				log.Warn("failed to release submission lock", zap.Error(err))
			}
		}()
	}

	// A started submission runs to a terminal status even when the worker stops.
	ctx = context.WithoutCancel(ctx)

	done := w.metrics.TrackInFlight()
	defer done()
	start := w.clock.Now()
	w.metrics.IncJobRun(obsmetrics.WorkerJobProcess)
	defer func() {
		w.metrics.ObserveJobDuration(obsmetrics.WorkerJobProcess, w.clock.Now().Sub(start))
	}()

	file, err := w.open(ctx, submission)
	if err != nil {
		reason := err.Error()
		w.metrics.IncJobError(obsmetrics.WorkerJobProcess, err)
		if setErr := w.repo.SetSubmissionStatus(ctx, submission.ID, domain.SubmissionStatusFailed, &reason); setErr != nil {
			return errors.Join(err, setErr)
		}
		w.metrics.IncProcessed(string(domain.SubmissionStatusFailed))
		log.Warn("submission source unavailable", zap.Error(err))
		return err
	}
	defer file.Close()

	summary, err := w.processor.Process(ctx, submission.ID, file)
	if err != nil {
		if errors.Is(err, domain.ErrSubmissionNotQueued) {
			w.metrics.IncSkipped(obsmetrics.WorkerSkipReasonAlreadyTaken)
			return nil
		}
		w.metrics.IncJobError(obsmetrics.WorkerJobProcess, err)
		if summary.Status.Terminal() {
			w.metrics.IncProcessed(string(summary.Status))
		}
		if obsmetrics.IsWorkerErrorRetryable(err) {
			log.Warn("submission failed, retryable", zap.Error(err))
		} else {
			log.Error("submission failed", zap.Error(err))
		}
		return fmt.Errorf("process submission %s: %w", submission.ID, err)
	}

	w.metrics.IncProcessed(string(summary.Status))
	log.Info("submission processed",
		zap.String("status", string(summary.Status)),
		zap.Int("rows_committed", summary.Recorded.Rows),
	)
	return nil
}

func (w *Worker) open(ctx context.Context, submission domain.Submission) (io.ReadCloser, error) {
	uri := strings.TrimSpace(submission.SourceURI)
	if uri == "" {
		return nil, fmt.Errorf("%w: submission has no source uri", ErrSourceUnavailable)
	}
	file, err := w.files.Open(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return file, nil
}

// RunForever polls every interval until ctx is done.
func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	nextRun := w.clock.Now()

	for {
		if lag := w.clock.Now().Sub(nextRun); lag > 0 {
			w.metrics.ObserveRunLoopLag(lag)
		}
		if err := w.RunOnce(ctx); err != nil {
			w.log.Warn("worker run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(w.cfg.Interval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
