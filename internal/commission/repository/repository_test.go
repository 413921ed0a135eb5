package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/commissions/internal/clock"
	"github.com/smallbiznis/commissions/internal/commission/domain"
	"github.com/smallbiznis/commissions/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newTestRepo(t *testing.T) (domain.Repository, *gorm.DB) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(domain.Models()...))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return New(conn, node, clk), conn
}

func newSubmission() *domain.Submission {
	return &domain.Submission{
		ReportID:       "ACME-2026-02",
		ReportVariant:  " Generic-CSV ",
		ReportingMonth: 2,
		ReportingYear:  2026,
		ManufacturerID: 11,
		UploaderID:     3,
	}
}

func TestRegisterSubmission(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.RegisterSubmission(ctx, newSubmission())
	require.NoError(t, err)
	require.NotZero(t, id)

	stored, err := repo.GetSubmission(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionStatusQueued, stored.Status)
	assert.Equal(t, "generic-csv", stored.ReportVariant)

	_, err = repo.GetSubmission(ctx, id+1)
	assert.ErrorIs(t, err, domain.ErrSubmissionNotFound)

	bad := newSubmission()
	bad.ReportingMonth = 13
	_, err = repo.RegisterSubmission(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidReportPeriod)

	bad = newSubmission()
	bad.ManufacturerID = 0
	_, err = repo.RegisterSubmission(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidManufacturer)
}

func TestClaimSubmissionIsExclusive(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.RegisterSubmission(ctx, newSubmission())
	require.NoError(t, err)

	queued, err := repo.ListQueuedSubmissions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)

	claimed, err := repo.ClaimSubmission(ctx, id)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.ClaimSubmission(ctx, id)
	require.NoError(t, err)
	assert.False(t, claimed)

	reason := "malformed_file"
	require.NoError(t, repo.SetSubmissionStatus(ctx, id, domain.SubmissionStatusFailed, &reason))
	stored, err := repo.GetSubmission(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, stored.FailureReason)
	assert.Equal(t, reason, *stored.FailureReason)

	claimed, err = repo.ClaimSubmission(ctx, id)
	require.NoError(t, err)
	assert.True(t, claimed, "failed submissions may be re-run")

	stored, err = repo.GetSubmission(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, stored.FailureReason)

	assert.ErrorIs(t, repo.SetSubmissionStatus(ctx, id+1, domain.SubmissionStatusComplete, nil), domain.ErrSubmissionNotFound)
}

func TestMappingsAreNormalizedAndUnique(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.RecordMapping(ctx, &domain.MappingEntry{Kind: domain.MappingKindCustomer, Label: " acme corp ", CanonicalID: 42}))
	err := repo.RecordMapping(ctx, &domain.MappingEntry{Kind: domain.MappingKindCustomer, Label: "ACME CORP", CanonicalID: 43})
	assert.ErrorIs(t, err, domain.ErrDuplicateMapping)

	require.NoError(t, repo.RecordMapping(ctx, &domain.MappingEntry{Kind: domain.MappingKindCity, Label: "ACME CORP", CanonicalID: 7}))

	assert.ErrorIs(t, repo.RecordMapping(ctx, &domain.MappingEntry{Kind: domain.MappingKindBranch, Label: "x", CanonicalID: 1}), domain.ErrInvalidMappingKind)
	assert.ErrorIs(t, repo.RecordMapping(ctx, &domain.MappingEntry{Kind: domain.MappingKindCity, Label: "  ", CanonicalID: 1}), domain.ErrInvalidMappingLabel)
	assert.ErrorIs(t, repo.RecordMapping(ctx, &domain.MappingEntry{Kind: domain.MappingKindCity, Label: "x", CanonicalID: 0}), domain.ErrInvalidCanonicalID)

	customers, err := repo.GetMapping(ctx, domain.MappingKindCustomer)
	require.NoError(t, err)
	require.Len(t, customers, 1)
	assert.Equal(t, "ACME CORP", customers[0].Label)
	assert.Equal(t, int64(42), customers[0].CanonicalID)
}

func TestBranchRegistry(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	rep := int64(5)
	require.NoError(t, repo.RecordBranch(ctx, &domain.BranchEntry{BranchID: 900, CustomerID: 42, CityID: 7, StateID: 1, RepresentativeID: &rep}))
	require.NoError(t, repo.RecordBranch(ctx, &domain.BranchEntry{BranchID: 901, CustomerID: 42, CityID: 8, StateID: 1}))

	err := repo.RecordBranch(ctx, &domain.BranchEntry{BranchID: 902, CustomerID: 42, CityID: 7, StateID: 1})
	assert.ErrorIs(t, err, domain.ErrDuplicateMapping)
	assert.ErrorIs(t, repo.RecordBranch(ctx, &domain.BranchEntry{BranchID: 903}), domain.ErrInvalidBranch)

	branches, err := repo.GetBranchMapping(ctx)
	require.NoError(t, err)
	require.Len(t, branches, 2)
	require.NotNil(t, branches[0].RepresentativeID)
	assert.Equal(t, rep, *branches[0].RepresentativeID)
	assert.Nil(t, branches[1].RepresentativeID)
}

func TestStepsErrorsAndCommissions(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.RegisterSubmission(ctx, newSubmission())
	require.NoError(t, err)

	last, err := repo.LastStepNumber(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, last)

	for i, desc := range []string{"normalized headers", "1 row(s) had no matching city"} {
		require.NoError(t, repo.RecordProcessingStep(ctx, &domain.ProcessingStep{SubmissionID: id, StepNumber: i + 1, Description: desc}))
	}
	err = repo.RecordProcessingStep(ctx, &domain.ProcessingStep{SubmissionID: id, StepNumber: 2, Description: "again"})
	assert.ErrorIs(t, err, domain.ErrInvalidStepNumber)

	last, err = repo.LastStepNumber(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, last)

	steps, err := repo.ListSteps(ctx, id)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "normalized headers", steps[0].Description)

	field, value := "city", "Smallville"
	require.NoError(t, repo.RecordErrors(ctx, []domain.ErrorRecord{{
		SubmissionID:    id,
		Kind:            domain.ErrorKindCityNotFound,
		RowKey:          "01J0000000000000000000000A",
		Row:             datatypes.JSON(`{"city_ref":"Smallville"}`),
		Field:           &field,
		Value:           &value,
		InvoiceCents:    2500,
		CommissionCents: 250,
	}}))
	require.NoError(t, repo.RecordFinalRows(ctx, []domain.CommissionRecord{{
		SubmissionID:     id,
		RowKey:           "01J0000000000000000000000B",
		BranchID:         900,
		RepresentativeID: 5,
		InvoiceCents:     1000,
		CommissionCents:  100,
	}}))
	err = repo.RecordFinalRows(ctx, []domain.CommissionRecord{{SubmissionID: id, RowKey: "x"}})
	assert.ErrorIs(t, err, domain.ErrInvalidBranch)

	errs, err := repo.ListErrors(ctx, id)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, domain.ErrorKindCityNotFound, errs[0].Kind)
	assert.JSONEq(t, `{"city_ref":"Smallville"}`, string(errs[0].Row))

	rows, err := repo.ListCommissions(ctx, id)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(100), rows[0].CommissionCents)
}

func TestWritesJoinContextTransaction(t *testing.T) {
	repo, conn := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.RegisterSubmission(ctx, newSubmission())
	require.NoError(t, err)

	boom := errors.New("boom")
	err = db.Transaction(ctx, conn, func(ctx context.Context) error {
		if err := repo.RecordProcessingStep(ctx, &domain.ProcessingStep{SubmissionID: id, StepNumber: 1, Description: "inside"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	steps, err := repo.ListSteps(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestDeleteSubmissionCascades(t *testing.T) {
	repo, conn := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.RegisterSubmission(ctx, newSubmission())
	require.NoError(t, err)
	require.NoError(t, repo.RecordProcessingStep(ctx, &domain.ProcessingStep{SubmissionID: id, StepNumber: 1, Description: "x"}))
	require.NoError(t, repo.RecordFinalRows(ctx, []domain.CommissionRecord{{SubmissionID: id, RowKey: "k", BranchID: 1, RepresentativeID: 1}}))

	require.NoError(t, repo.DeleteSubmission(ctx, id))
	assert.ErrorIs(t, repo.DeleteSubmission(ctx, id), domain.ErrSubmissionNotFound)

	for _, model := range []any{&domain.ProcessingStep{}, &domain.CommissionRecord{}, &domain.Submission{}} {
		var count int64
		require.NoError(t, conn.Model(model).Count(&count).Error)
		assert.Zero(t, count)
	}
}

func TestSetSubmissionStatusSurfacesDriverErrors(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	conn, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
	})
	require.NoError(t, err)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	repo := New(conn, node, clock.NewFakeClock(time.Now()))

	boom := errors.New("connection reset")
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "submissions" SET`)).WillReturnError(boom)

	err = repo.SetSubmissionStatus(context.Background(), 1, domain.SubmissionStatusComplete, nil)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
