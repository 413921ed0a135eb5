package domain

import "errors"

var (
	ErrInvalidSubmission   = errors.New("invalid_submission")
	ErrSubmissionNotFound  = errors.New("submission_not_found")
	ErrInvalidReportPeriod = errors.New("invalid_report_period")
	ErrInvalidManufacturer = errors.New("invalid_manufacturer")
	ErrInvalidMappingKind  = errors.New("invalid_mapping_kind")
	ErrInvalidMappingLabel = errors.New("invalid_mapping_label")
	ErrInvalidCanonicalID  = errors.New("invalid_canonical_id")
	ErrDuplicateMapping    = errors.New("duplicate_mapping")
	ErrInvalidBranch       = errors.New("invalid_branch")
	ErrInvalidStepNumber   = errors.New("invalid_step_number")
	ErrSubmissionNotQueued = errors.New("submission_not_queued")
)

// ValidateMappingKind rejects kinds that are not label registries.
func ValidateMappingKind(kind MappingKind) error {
	switch kind {
	case MappingKindCustomer, MappingKindCity, MappingKindState, MappingKindIDString:
		return nil
	default:
		return ErrInvalidMappingKind
	}
}
