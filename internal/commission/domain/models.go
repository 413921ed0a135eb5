package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SubmissionStatus tracks the lifecycle of one commission report filing.
type SubmissionStatus string

const (
	SubmissionStatusQueued         SubmissionStatus = "QUEUED"
	SubmissionStatusProcessing     SubmissionStatus = "PROCESSING"
	SubmissionStatusComplete       SubmissionStatus = "COMPLETE"
	SubmissionStatusNeedsAttention SubmissionStatus = "NEEDS_ATTENTION"
	SubmissionStatusFailed         SubmissionStatus = "FAILED"
)

// Terminal reports whether no further processing is expected for the status.
func (s SubmissionStatus) Terminal() bool {
	switch s {
	case SubmissionStatusComplete, SubmissionStatusNeedsAttention, SubmissionStatusFailed:
		return true
	default:
		return false
	}
}

// ErrorKind identifies the resolution stage a row failed at.
type ErrorKind string

const (
	ErrorKindCustomerNotFound          ErrorKind = "CustomerNotFound"
	ErrorKindCityNotFound              ErrorKind = "CityNotFound"
	ErrorKindStateNotFound             ErrorKind = "StateNotFound"
	ErrorKindBranchNotFound            ErrorKind = "BranchNotFound"
	ErrorKindRepresentativeNotAssigned ErrorKind = "RepresentativeNotAssigned"
)

// ErrorKinds lists every row-level error kind in stage order.
func ErrorKinds() []ErrorKind {
	return []ErrorKind{
		ErrorKindCustomerNotFound,
		ErrorKindCityNotFound,
		ErrorKindStateNotFound,
		ErrorKindBranchNotFound,
		ErrorKindRepresentativeNotAssigned,
	}
}

// MappingKind names a free-text label registry.
type MappingKind string

const (
	MappingKindCustomer MappingKind = "customer"
	MappingKindCity     MappingKind = "city"
	MappingKindState    MappingKind = "state"
	// MappingKindIDString maps a composite id-string to a branch id.
	MappingKindIDString MappingKind = "id_string"
	MappingKindBranch   MappingKind = "branch"
)

// Submission is one commission report filing.
type Submission struct {
	ID                      snowflake.ID     `gorm:"primaryKey" json:"id"`
	ReportID                string           `gorm:"type:text;not null" json:"report_id"`
	ReportVariant           string           `gorm:"type:text;not null" json:"report_variant"`
	ReportingMonth          int              `gorm:"not null" json:"reporting_month"`
	ReportingYear           int              `gorm:"not null" json:"reporting_year"`
	ManufacturerID          int64            `gorm:"not null;index" json:"manufacturer_id"`
	UploaderID              int64            `gorm:"not null" json:"uploader_id"`
	Status                  SubmissionStatus `gorm:"type:text;not null;index" json:"status"`
	DeclaredCommissionCents *int64           `json:"declared_commission_cents,omitempty"`
	DeclaredFreightCents    *int64           `json:"declared_freight_cents,omitempty"`
	SourceURI               string           `gorm:"type:text" json:"source_uri,omitempty"`
	FailureReason           *string          `gorm:"type:text" json:"failure_reason,omitempty"`
	CreatedAt               time.Time        `gorm:"not null" json:"created_at"`
	UpdatedAt               time.Time        `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Submission) TableName() string { return "submissions" }

// MappingEntry records that a normalized label resolves to a canonical id.
type MappingEntry struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Kind        MappingKind  `gorm:"type:text;not null;uniqueIndex:ux_mapping_entries_kind_label,priority:1" json:"kind"`
	Label       string       `gorm:"type:text;not null;uniqueIndex:ux_mapping_entries_kind_label,priority:2" json:"label"`
	CanonicalID int64        `gorm:"not null" json:"canonical_id"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (MappingEntry) TableName() string { return "mapping_entries" }

// BranchEntry links a customer location to its branch and representative.
type BranchEntry struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	BranchID         int64        `gorm:"not null;uniqueIndex" json:"branch_id"`
	CustomerID       int64        `gorm:"not null;uniqueIndex:ux_branch_entries_location,priority:1" json:"customer_id"`
	CityID           int64        `gorm:"not null;uniqueIndex:ux_branch_entries_location,priority:2" json:"city_id"`
	StateID          int64        `gorm:"not null;uniqueIndex:ux_branch_entries_location,priority:3" json:"state_id"`
	RepresentativeID *int64       `json:"representative_id,omitempty"`
	CreatedAt        time.Time    `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (BranchEntry) TableName() string { return "branch_entries" }

// ErrorRecord explains one row that was dropped by a resolution stage.
type ErrorRecord struct {
	ID              snowflake.ID   `gorm:"primaryKey" json:"id"`
	SubmissionID    snowflake.ID   `gorm:"not null;index" json:"submission_id"`
	Kind            ErrorKind      `gorm:"type:text;not null" json:"kind"`
	RowKey          string         `gorm:"type:text;not null" json:"row_key"`
	Row             datatypes.JSON `gorm:"not null" json:"row"`
	Field           *string        `gorm:"type:text" json:"field,omitempty"`
	Value           *string        `gorm:"type:text" json:"value,omitempty"`
	InvoiceCents    int64          `gorm:"not null" json:"invoice_cents"`
	CommissionCents int64          `gorm:"not null" json:"commission_cents"`
	CreatedAt       time.Time      `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (ErrorRecord) TableName() string { return "submission_errors" }

// ProcessingStep is one numbered audit entry for a submission.
type ProcessingStep struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	SubmissionID snowflake.ID `gorm:"not null;uniqueIndex:ux_processing_steps_number,priority:1" json:"submission_id"`
	StepNumber   int          `gorm:"not null;uniqueIndex:ux_processing_steps_number,priority:2" json:"step_number"`
	Description  string       `gorm:"type:text;not null" json:"description"`
	CreatedAt    time.Time    `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (ProcessingStep) TableName() string { return "processing_steps" }

// CommissionRecord is a fully resolved, committed commission line.
type CommissionRecord struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	SubmissionID     snowflake.ID `gorm:"not null;index" json:"submission_id"`
	RowKey           string       `gorm:"type:text;not null" json:"row_key"`
	BranchID         int64        `gorm:"not null;index" json:"branch_id"`
	RepresentativeID int64        `gorm:"not null" json:"representative_id"`
	InvoiceCents     int64        `gorm:"not null" json:"invoice_cents"`
	CommissionCents  int64        `gorm:"not null" json:"commission_cents"`
	CreatedAt        time.Time    `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (CommissionRecord) TableName() string { return "commission_records" }

// Models lists every persisted model, in dependency order.
func Models() []any {
	return []any{
		&Submission{},
		&MappingEntry{},
		&BranchEntry{},
		&ErrorRecord{},
		&ProcessingStep{},
		&CommissionRecord{},
	}
}
