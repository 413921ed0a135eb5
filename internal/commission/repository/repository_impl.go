package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/commissions/internal/clock"
	"github.com/smallbiznis/commissions/internal/commission/domain"
	"github.com/smallbiznis/commissions/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const insertBatchSize = 500

type Params struct {
	fx.In

	DB    *gorm.DB
	GenID *snowflake.Node
	Clock clock.Clock `optional:"true"`
}

type repository struct {
	db    *gorm.DB
	genID *snowflake.Node
	clock clock.Clock
}

func Provide(p Params) domain.Repository {
	return New(p.DB, p.GenID, p.Clock)
}

func New(conn *gorm.DB, genID *snowflake.Node, clk clock.Clock) domain.Repository {
	if clk == nil {
		clk = clock.System()
	}
	return &repository{db: conn, genID: genID, clock: clk}
}

func (r *repository) conn(ctx context.Context) *gorm.DB {
	return db.Conn(ctx, r.db)
}

func (r *repository) RegisterSubmission(ctx context.Context, submission *domain.Submission) (snowflake.ID, error) {
	if submission == nil {
		return 0, domain.ErrInvalidSubmission
	}
	submission.ReportID = strings.TrimSpace(submission.ReportID)
	submission.ReportVariant = strings.ToLower(strings.TrimSpace(submission.ReportVariant))
	if submission.ReportID == "" || submission.ReportVariant == "" {
		return 0, domain.ErrInvalidSubmission
	}
	if submission.ReportingMonth < 1 || submission.ReportingMonth > 12 || submission.ReportingYear < 1 {
		return 0, domain.ErrInvalidReportPeriod
	}
	if submission.ManufacturerID <= 0 {
		return 0, domain.ErrInvalidManufacturer
	}

	now := r.clock.Now()
	if submission.ID == 0 {
		submission.ID = r.genID.Generate()
	}
	submission.Status = domain.SubmissionStatusQueued
	submission.FailureReason = nil
	submission.CreatedAt = now
	submission.UpdatedAt = now

	if err := r.conn(ctx).Create(submission).Error; err != nil {
		return 0, fmt.Errorf("insert submission: %w", err)
	}
	return submission.ID, nil
}

func (r *repository) GetSubmission(ctx context.Context, id snowflake.ID) (*domain.Submission, error) {
	var submission domain.Submission
	err := r.conn(ctx).Where("id = ?", id).Take(&submission).Error
	if err != nil {
		if db.IsNotFoundErr(err) {
			return nil, domain.ErrSubmissionNotFound
		}
		return nil, err
	}
	return &submission, nil
}

func (r *repository) ListQueuedSubmissions(ctx context.Context, limit int) ([]domain.Submission, error) {
	var submissions []domain.Submission
	stmt := r.conn(ctx).
		Where("status = ?", domain.SubmissionStatusQueued).
		Order("created_at asc, id asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&submissions).Error; err != nil {
		return nil, err
	}
	return submissions, nil
}

// ClaimSubmission moves a QUEUED or FAILED submission to PROCESSING. It
// reports false when another run already owns it or it has finished.
func (r *repository) ClaimSubmission(ctx context.Context, id snowflake.ID) (bool, error) {
	res := r.conn(ctx).
		Model(&domain.Submission{}).
		Where("id = ? AND status IN ?", id, []domain.SubmissionStatus{
			domain.SubmissionStatusQueued,
			domain.SubmissionStatusFailed,
		}).
		Updates(map[string]any{
			"status":         domain.SubmissionStatusProcessing,
			"failure_reason": nil,
			"updated_at":     r.clock.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) SetSubmissionStatus(ctx context.Context, id snowflake.ID, status domain.SubmissionStatus, reason *string) error {
	res := r.conn(ctx).
		Model(&domain.Submission{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":         status,
			"failure_reason": reason,
			"updated_at":     r.clock.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrSubmissionNotFound
	}
	return nil
}

func (r *repository) DeleteSubmission(ctx context.Context, id snowflake.ID) error {
	return db.Transaction(ctx, r.db, func(ctx context.Context) error {
		tx := r.conn(ctx)
		for _, model := range []any{&domain.CommissionRecord{}, &domain.ProcessingStep{}, &domain.ErrorRecord{}} {
			if err := tx.Where("submission_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		res := tx.Where("id = ?", id).Delete(&domain.Submission{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrSubmissionNotFound
		}
		return nil
	})
}

func (r *repository) GetMapping(ctx context.Context, kind domain.MappingKind) ([]domain.MappingEntry, error) {
	if err := domain.ValidateMappingKind(kind); err != nil {
		return nil, err
	}
	var entries []domain.MappingEntry
	err := r.conn(ctx).
		Where("kind = ?", kind).
		Order("created_at asc, id asc").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) GetBranchMapping(ctx context.Context) ([]domain.BranchEntry, error) {
	var entries []domain.BranchEntry
	if err := r.conn(ctx).Order("created_at asc, id asc").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) RecordMapping(ctx context.Context, entry *domain.MappingEntry) error {
	if entry == nil {
		return domain.ErrInvalidMappingLabel
	}
	if err := domain.ValidateMappingKind(entry.Kind); err != nil {
		return err
	}
	entry.Label = domain.NormalizeLabel(entry.Label)
	if entry.Label == "" {
		return domain.ErrInvalidMappingLabel
	}
	if entry.CanonicalID <= 0 {
		return domain.ErrInvalidCanonicalID
	}
	if entry.ID == 0 {
		entry.ID = r.genID.Generate()
	}
	entry.CreatedAt = r.clock.Now()

	if err := r.conn(ctx).Create(entry).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.ErrDuplicateMapping
		}
		return err
	}
	return nil
}

func (r *repository) RecordBranch(ctx context.Context, entry *domain.BranchEntry) error {
	if entry == nil || entry.BranchID <= 0 || entry.CustomerID <= 0 || entry.CityID <= 0 || entry.StateID <= 0 {
		return domain.ErrInvalidBranch
	}
	if entry.ID == 0 {
		entry.ID = r.genID.Generate()
	}
	entry.CreatedAt = r.clock.Now()

	if err := r.conn(ctx).Create(entry).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.ErrDuplicateMapping
		}
		return err
	}
	return nil
}

func (r *repository) RecordErrors(ctx context.Context, records []domain.ErrorRecord) error {
	if len(records) == 0 {
		return nil
	}
	now := r.clock.Now()
	for i := range records {
		if records[i].ID == 0 {
			records[i].ID = r.genID.Generate()
		}
		if records[i].SubmissionID == 0 {
			return domain.ErrInvalidSubmission
		}
		records[i].CreatedAt = now
	}
	if err := r.conn(ctx).CreateInBatches(records, insertBatchSize).Error; err != nil {
		return fmt.Errorf("insert submission errors: %w", err)
	}
	return nil
}

func (r *repository) ListErrors(ctx context.Context, submissionID snowflake.ID) ([]domain.ErrorRecord, error) {
	var records []domain.ErrorRecord
	err := r.conn(ctx).
		Where("submission_id = ?", submissionID).
		Order("id asc").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) RecordProcessingStep(ctx context.Context, step *domain.ProcessingStep) error {
	if step == nil || step.StepNumber < 1 {
		return domain.ErrInvalidStepNumber
	}
	if step.ID == 0 {
		step.ID = r.genID.Generate()
	}
	step.CreatedAt = r.clock.Now()
	if err := r.conn(ctx).Create(step).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return fmt.Errorf("%w: step %d already recorded", domain.ErrInvalidStepNumber, step.StepNumber)
		}
		return err
	}
	return nil
}

func (r *repository) LastStepNumber(ctx context.Context, submissionID snowflake.ID) (int, error) {
	var row struct {
		Last sql.NullInt64 `gorm:"column:last"`
	}
	err := r.conn(ctx).
		Model(&domain.ProcessingStep{}).
		Select("MAX(step_number) AS last").
		Where("submission_id = ?", submissionID).
		Scan(&row).Error
	if err != nil {
		return 0, err
	}
	return int(row.Last.Int64), nil
}

func (r *repository) ListSteps(ctx context.Context, submissionID snowflake.ID) ([]domain.ProcessingStep, error) {
	var steps []domain.ProcessingStep
	err := r.conn(ctx).
		Where("submission_id = ?", submissionID).
		Order("step_number asc").
		Find(&steps).Error
	if err != nil {
		return nil, err
	}
	return steps, nil
}

func (r *repository) RecordFinalRows(ctx context.Context, rows []domain.CommissionRecord) error {
	if len(rows) == 0 {
		return nil
	}
	now := r.clock.Now()
	for i := range rows {
		if rows[i].SubmissionID == 0 || rows[i].BranchID == 0 || rows[i].RepresentativeID == 0 {
			return fmt.Errorf("%w: commission row %q is not fully resolved", domain.ErrInvalidBranch, rows[i].RowKey)
		}
		if rows[i].ID == 0 {
			rows[i].ID = r.genID.Generate()
		}
		rows[i].CreatedAt = now
	}
	if err := r.conn(ctx).CreateInBatches(rows, insertBatchSize).Error; err != nil {
		return fmt.Errorf("insert commission records: %w", err)
	}
	return nil
}

func (r *repository) ListCommissions(ctx context.Context, submissionID snowflake.ID) ([]domain.CommissionRecord, error) {
	var rows []domain.CommissionRecord
	err := r.conn(ctx).
		Where("submission_id = ?", submissionID).
		Order("id asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
