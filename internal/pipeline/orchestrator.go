package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/commissions/internal/adapter"
	"github.com/smallbiznis/commissions/internal/clock"
	"github.com/smallbiznis/commissions/internal/commission/domain"
	"github.com/smallbiznis/commissions/internal/config"
	"github.com/smallbiznis/commissions/internal/eventbus"
	obsctx "github.com/smallbiznis/commissions/internal/observability/context"
	"github.com/smallbiznis/commissions/internal/observability/logger"
	"github.com/smallbiznis/commissions/internal/observability/metrics"
	"github.com/smallbiznis/commissions/internal/observability/tracing"
	"github.com/smallbiznis/commissions/internal/registry"
	"github.com/smallbiznis/commissions/internal/resolution"
	"github.com/smallbiznis/commissions/internal/steps"
	"github.com/smallbiznis/commissions/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Stage names reported in spans, metrics and logs.
const (
	StagePreprocess       = "preprocess"
	StageFilterUnresolved = "filter_unresolved"
	StageProjectFinal     = "project_final_columns"
	StageCommit           = "commit"
)

// State is a milestone of one pipeline run.
type State string

const (
	StateRegistered       State = "REGISTERED"
	StatePreprocessed     State = "PREPROCESSED"
	StateCustomerResolved State = "CUSTOMER_RESOLVED"
	StateCityResolved     State = "CITY_RESOLVED"
	StateStateResolved    State = "STATE_RESOLVED"
	StateBranchResolved   State = "BRANCH_RESOLVED"
	StateCommitted        State = "COMMITTED"
	StateFailed           State = "FAILED"
)

var resolvedStates = map[resolution.StageName]State{
	resolution.StageCustomer: StateCustomerResolved,
	resolution.StageCity:     StateCityResolved,
	resolution.StageState:    StateStateResolved,
	resolution.StageBranch:   StateBranchResolved,
}

// RunRequest registers a submission and processes file in one call.
type RunRequest struct {
	Submission domain.Submission
	File       io.Reader
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Repo     domain.Repository
	Registry *registry.Service
	Adapters *adapter.Registry
	Bus      *eventbus.Bus
	Policy   config.PolicySource
	Metrics  *metrics.Metrics `optional:"true"`
	Clock    clock.Clock      `optional:"true"`
	Log      *zap.Logger
}

// Orchestrator drives submissions through preprocessing, identity
// resolution and commit. It holds no per-run state.
type Orchestrator struct {
	db       *gorm.DB
	repo     domain.Repository
	registry *registry.Service
	adapters *adapter.Registry
	bus      *eventbus.Bus
	policy   config.PolicySource
	metrics  *metrics.Metrics
	clock    clock.Clock
	log      *zap.Logger
}

func New(p Params) *Orchestrator {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	policy := p.Policy
	if policy == nil {
		policy = config.StaticPolicy(config.DefaultPipelinePolicy())
	}
	return &Orchestrator{
		db:       p.DB,
		repo:     p.Repo,
		registry: p.Registry,
		adapters: p.Adapters,
		bus:      p.Bus,
		policy:   policy,
		metrics:  p.Metrics,
		clock:    clk,
		log:      p.Log.Named("pipeline.orchestrator"),
	}
}

// Register persists submission metadata and returns its id. The
// submission starts QUEUED.
func (o *Orchestrator) Register(ctx context.Context, submission *domain.Submission) (snowflake.ID, error) {
	id, err := o.repo.RegisterSubmission(ctx, submission)
	if err != nil {
		return 0, err
	}
	o.metrics.RecordSubmission(ctx, submission.ReportVariant, string(domain.SubmissionStatusQueued))
	o.log.Info("submission registered",
		zap.String("submission_id", id.String()),
		zap.String("report_variant", submission.ReportVariant),
		zap.String("report_id", submission.ReportID),
	)
	return id, nil
}

// Run registers req.Submission and processes req.File.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (Summary, error) {
	submission := req.Submission
	id, err := o.Register(ctx, &submission)
	if err != nil {
		return Summary{}, err
	}
	return o.Process(ctx, id, req.File)
}

// Process runs a registered submission to a terminal status. Fatal errors
// leave the submission FAILED with every write of the run rolled back.
func (o *Orchestrator) Process(ctx context.Context, submissionID snowflake.ID, file io.Reader) (Summary, error) {
	submission, err := o.repo.GetSubmission(ctx, submissionID)
	if err != nil {
		return Summary{}, err
	}
	claimed, err := o.repo.ClaimSubmission(ctx, submissionID)
	if err != nil {
		return Summary{}, err
	}
	if !claimed {
		return Summary{}, fmt.Errorf("%w: %s is %s", domain.ErrSubmissionNotQueued, submissionID, submission.Status)
	}
	submission.Status = domain.SubmissionStatusProcessing

	runID := ulid.Make().String()
	ctx = obsctx.WithSubmissionID(ctx, submissionID.Int64())
	ctx = obsctx.WithRunID(ctx, runID)
	ctx = obsctx.WithVariant(ctx, submission.ReportVariant)
	log := logger.WithContext(ctx, o.log)
	log.Info("submission processing started", zap.String("state", string(StateRegistered)))

	summary := Summary{
		SubmissionID: submissionID,
		RunID:        runID,
		Variant:      submission.ReportVariant,
	}

	batch, notes, err := o.preprocess(ctx, *submission, file)
	if err != nil {
		return o.fail(ctx, log, summary, err)
	}
	summary.Input = batch.Totals()
	log.Info("submission preprocessed",
		zap.String("state", string(StatePreprocessed)),
		zap.Int("rows", len(batch)),
		zap.Int("notes", len(notes)),
	)

	ref, err := o.registry.LoadReference(ctx)
	if err != nil {
		return o.fail(ctx, log, summary, err)
	}
	engine := resolution.NewEngine(ref, o.log)

	err = db.Transaction(ctx, o.db, func(ctx context.Context) error {
		ledger, err := steps.Resume(ctx, submissionID, o.repo)
		if err != nil {
			return fmt.Errorf("resume step ledger: %w", err)
		}
		first := ledger.Next()
		sc := &SubmissionContext{Submission: *submission, RunID: runID, Ledger: ledger}

		if err := o.run(ctx, log, sc, engine, batch, notes, &summary); err != nil {
			return err
		}

		summary.Status = DecideStatus(o.policy.Get(), summary)
		if _, err := ledger.Record(ctx, fmt.Sprintf("Submission marked %s: %d of %d row(s) committed",
			summary.Status, summary.Recorded.Rows, summary.Input.Rows)); err != nil {
			return err
		}
		summary.Steps = ledger.Next() - first
		return o.repo.SetSubmissionStatus(ctx, submissionID, summary.Status, nil)
	})
	if err != nil {
		summary.Errors = nil
		summary.Recorded = domain.Totals{}
		summary.Removed = domain.Totals{}
		summary.Steps = 0
		summary.DeclaredDiffCents = nil
		return o.fail(ctx, log, summary, err)
	}

	o.metrics.RecordSubmission(ctx, summary.Variant, string(summary.Status))
	o.metrics.RecordCommitted(ctx, summary.Variant, summary.Recorded.Rows, summary.Recorded.CommissionCents)
	log.Info("submission processed",
		zap.String("state", string(StateCommitted)),
		zap.String("status", string(summary.Status)),
		zap.Int("rows_in", summary.Input.Rows),
		zap.Int("rows_committed", summary.Recorded.Rows),
		zap.Int("rows_errored", summary.ErrorCount()),
	)
	return summary, nil
}

func (o *Orchestrator) preprocess(ctx context.Context, submission domain.Submission, file io.Reader) (domain.Batch, []string, error) {
	ctx, span := tracing.StartStage(ctx, StagePreprocess, attribute.String("report_variant", submission.ReportVariant))
	start := o.clock.Now()

	batch, notes, err := o.adapters.Preprocess(ctx, adapter.PreprocessRequest{
		Variant:    submission.ReportVariant,
		Submission: submission,
		File:       file,
	})
	o.metrics.ObserveStage(ctx, StagePreprocess, o.clock.Now().Sub(start))
	tracing.EndStage(span, err)
	if err != nil {
		return nil, nil, err
	}

	batch = batch.Clone()
	for i := range batch {
		batch[i].SubmissionID = submission.ID
		if batch[i].RowKey == "" {
			batch[i].RowKey = ulid.Make().String()
		}
		if batch[i].SourceRow == 0 {
			batch[i].SourceRow = i + 1
		}
	}
	return batch, notes, nil
}

// run executes every stage after preprocessing. All writes go through ctx,
// which carries the run's transaction.
func (o *Orchestrator) run(
	ctx context.Context,
	log *zap.Logger,
	sc *SubmissionContext,
	engine *resolution.Engine,
	batch domain.Batch,
	notes []string,
	summary *Summary,
) error {
	for _, note := range notes {
		if err := o.bus.Publish(ctx, eventbus.TopicFormatting, sc, Formatting{Note: note}); err != nil {
			return err
		}
	}

	for _, stage := range resolution.Stages() {
		next, err := o.resolveStage(ctx, sc, engine, stage, batch, summary)
		if err != nil {
			return err
		}
		batch = next
		log.Debug("stage complete",
			zap.String("state", string(resolvedStates[stage.Name])),
			zap.Int("rows", len(batch)),
		)
	}

	records := o.project(ctx, batch)
	return o.commit(ctx, sc, records, summary)
}

func (o *Orchestrator) resolveStage(
	ctx context.Context,
	sc *SubmissionContext,
	engine *resolution.Engine,
	stage resolution.Stage,
	batch domain.Batch,
	summary *Summary,
) (out domain.Batch, err error) {
	name := "resolve_" + string(stage.Name)
	stageCtx, span := tracing.StartStage(ctx, name, attribute.Int("rows", len(batch)))
	start := o.clock.Now()
	defer func() {
		o.metrics.ObserveStage(stageCtx, name, o.clock.Now().Sub(start))
		tracing.EndStage(span, err)
	}()

	result, err := engine.Resolve(stage, batch)
	if err != nil {
		return nil, err
	}
	for _, group := range result.Affected {
		summary.addErrors(group.Kind, len(group.Rows))
		payload := RowsAffected{Stage: stage.Name, Kind: group.Kind, Rows: group.Rows}
		if err := o.bus.Publish(stageCtx, TopicFor(group.Kind), sc, payload); err != nil {
			return nil, err
		}
	}
	return o.filterUnresolved(stageCtx, sc, stage, result.Batch, summary)
}

// filterUnresolved drops rows missing any identifier the stage requires.
func (o *Orchestrator) filterUnresolved(
	ctx context.Context,
	sc *SubmissionContext,
	stage resolution.Stage,
	batch domain.Batch,
	summary *Summary,
) (domain.Batch, error) {
	ctx, span := tracing.StartStage(ctx, StageFilterUnresolved, attribute.String("after", string(stage.Name)))
	defer tracing.EndStage(span, nil)

	kept, dropped := resolution.Filter(batch, stage.Required...)
	span.SetAttributes(attribute.Int("dropped", len(dropped)))
	if len(dropped) == 0 {
		return kept, nil
	}
	removed := dropped.Totals()
	summary.addRemoved(removed)
	if err := o.bus.Publish(ctx, eventbus.TopicRowsRemoved, sc, RowsRemoved{Stage: stage.Name, Totals: removed}); err != nil {
		return nil, err
	}
	return kept, nil
}

func (o *Orchestrator) project(ctx context.Context, batch domain.Batch) []domain.CommissionRecord {
	_, span := tracing.StartStage(ctx, StageProjectFinal, attribute.Int("rows", len(batch)))
	defer tracing.EndStage(span, nil)

	now := o.clock.Now()
	records := make([]domain.CommissionRecord, 0, len(batch))
	for _, item := range batch {
		records = append(records, domain.CommissionRecord{
			SubmissionID:     item.SubmissionID,
			RowKey:           item.RowKey,
			BranchID:         item.BranchID,
			RepresentativeID: item.RepresentativeID,
			InvoiceCents:     item.InvoiceCents,
			CommissionCents:  item.CommissionCents,
			CreatedAt:        now,
		})
	}
	return records
}

func (o *Orchestrator) commit(ctx context.Context, sc *SubmissionContext, records []domain.CommissionRecord, summary *Summary) (err error) {
	ctx, span := tracing.StartStage(ctx, StageCommit, attribute.Int("rows", len(records)))
	start := o.clock.Now()
	defer func() {
		o.metrics.ObserveStage(ctx, StageCommit, o.clock.Now().Sub(start))
		tracing.EndStage(span, err)
	}()

	if len(records) > 0 {
		if err := o.repo.RecordFinalRows(ctx, records); err != nil {
			return err
		}
	}

	totals := domain.Totals{Rows: len(records)}
	for _, record := range records {
		totals.InvoiceCents += record.InvoiceCents
		totals.CommissionCents += record.CommissionCents
	}
	summary.Recorded = totals
	if declared := sc.Submission.DeclaredCommissionCents; declared != nil {
		diff := *declared - totals.CommissionCents
		summary.DeclaredDiffCents = &diff
	}

	return o.bus.Publish(ctx, eventbus.TopicDataRecorded, sc, DataRecorded{
		Totals:                  totals,
		DeclaredCommissionCents: sc.Submission.DeclaredCommissionCents,
	})
}

// fail marks the submission FAILED outside of any run transaction. The
// write ignores cancellation of ctx so a claimed submission never stays
// PROCESSING.
func (o *Orchestrator) fail(ctx context.Context, log *zap.Logger, summary Summary, cause error) (Summary, error) {
	ctx = context.WithoutCancel(ctx)
	summary.Status = domain.SubmissionStatusFailed
	reason := cause.Error()
	log.Error("submission failed", zap.String("state", string(StateFailed)), zap.Error(cause))

	if err := o.repo.SetSubmissionStatus(ctx, summary.SubmissionID, domain.SubmissionStatusFailed, &reason); err != nil {
		return summary, errors.Join(cause, fmt.Errorf("mark submission failed: %w", err))
	}
	o.metrics.RecordSubmission(ctx, summary.Variant, string(domain.SubmissionStatusFailed))
	return summary, cause
}
