package pipeline

import (
	"github.com/smallbiznis/commissions/internal/commission/domain"
	"github.com/smallbiznis/commissions/internal/eventbus"
	"github.com/smallbiznis/commissions/internal/resolution"
	"github.com/smallbiznis/commissions/internal/steps"
)

// SubmissionContext is the per-run state handed to every pipeline subscriber.
type SubmissionContext struct {
	Submission domain.Submission
	RunID      string
	Ledger     *steps.Ledger
}

// RowsAffected is the payload of the error-kind topics: every row one
// stage could not resolve, filed under Kind.
type RowsAffected struct {
	Stage resolution.StageName
	Kind  domain.ErrorKind
	Rows  domain.Batch
}

// RowsRemoved reports the aggregate amounts dropped by one filter pass.
type RowsRemoved struct {
	Stage  resolution.StageName
	Totals domain.Totals
}

// DataRecorded reports what the commit step wrote.
type DataRecorded struct {
	Totals domain.Totals
	// DeclaredCommissionCents is the total the manufacturer declared, if any.
	DeclaredCommissionCents *int64
}

// Formatting carries one adapter note.
type Formatting struct {
	Note string
}

// TopicFor returns the bus topic rows failing with kind are posted under.
func TopicFor(kind domain.ErrorKind) eventbus.Topic {
	return eventbus.Topic(kind)
}
