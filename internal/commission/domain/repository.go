package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Repository persists submissions, reference mappings and every pipeline output.
// Writes honour a transaction carried in ctx (see pkg/db.WithTx).
type Repository interface {
	RegisterSubmission(ctx context.Context, submission *Submission) (snowflake.ID, error)
	GetSubmission(ctx context.Context, id snowflake.ID) (*Submission, error)
	ListQueuedSubmissions(ctx context.Context, limit int) ([]Submission, error)
	ClaimSubmission(ctx context.Context, id snowflake.ID) (bool, error)
	SetSubmissionStatus(ctx context.Context, id snowflake.ID, status SubmissionStatus, reason *string) error
	DeleteSubmission(ctx context.Context, id snowflake.ID) error

	GetMapping(ctx context.Context, kind MappingKind) ([]MappingEntry, error)
	GetBranchMapping(ctx context.Context) ([]BranchEntry, error)
	RecordMapping(ctx context.Context, entry *MappingEntry) error
	RecordBranch(ctx context.Context, entry *BranchEntry) error

	RecordErrors(ctx context.Context, records []ErrorRecord) error
	ListErrors(ctx context.Context, submissionID snowflake.ID) ([]ErrorRecord, error)

	RecordProcessingStep(ctx context.Context, step *ProcessingStep) error
	LastStepNumber(ctx context.Context, submissionID snowflake.ID) (int, error)
	ListSteps(ctx context.Context, submissionID snowflake.ID) ([]ProcessingStep, error)

	RecordFinalRows(ctx context.Context, rows []CommissionRecord) error
	ListCommissions(ctx context.Context, submissionID snowflake.ID) ([]CommissionRecord, error)
}
