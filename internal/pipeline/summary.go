package pipeline

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/commissions/internal/commission/domain"
)

// Summary describes the outcome of one pipeline run.
type Summary struct {
	SubmissionID snowflake.ID            `json:"submission_id"`
	RunID        string                  `json:"run_id"`
	Variant      string                  `json:"report_variant"`
	Status       domain.SubmissionStatus `json:"status"`

	Input    domain.Totals `json:"input"`
	Recorded domain.Totals `json:"recorded"`
	Removed  domain.Totals `json:"removed"`

	Errors map[domain.ErrorKind]int `json:"errors,omitempty"`
	Steps  int                      `json:"steps"`

	// DeclaredDiffCents is declared minus recorded commission, when the
	// submission declared a total.
	DeclaredDiffCents *int64 `json:"declared_diff_cents,omitempty"`
}

// ErrorCount sums the rows filed under every error kind.
func (s Summary) ErrorCount() int {
	total := 0
	for _, n := range s.Errors {
		total += n
	}
	return total
}

// UnresolvedFraction is the share of input rows that were not committed.
func (s Summary) UnresolvedFraction() float64 {
	if s.Input.Rows == 0 {
		return 0
	}
	return float64(s.Input.Rows-s.Recorded.Rows) / float64(s.Input.Rows)
}

func (s *Summary) addErrors(kind domain.ErrorKind, rows int) {
	if rows == 0 {
		return
	}
	if s.Errors == nil {
		s.Errors = make(map[domain.ErrorKind]int)
	}
	s.Errors[kind] += rows
}

func (s *Summary) addRemoved(totals domain.Totals) {
	s.Removed.Rows += totals.Rows
	s.Removed.InvoiceCents += totals.InvoiceCents
	s.Removed.CommissionCents += totals.CommissionCents
}
