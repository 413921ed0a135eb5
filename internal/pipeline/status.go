package pipeline

import (
	"github.com/smallbiznis/commissions/internal/commission/domain"
	"github.com/smallbiznis/commissions/internal/config"
)

// DecideStatus maps a finished run onto its final submission status.
// An empty report is complete; a non-empty report with nothing committed
// always needs attention.
func DecideStatus(policy config.PipelinePolicy, summary Summary) domain.SubmissionStatus {
	if summary.Input.Rows == 0 {
		return domain.SubmissionStatusComplete
	}
	if summary.Recorded.Rows == 0 {
		return domain.SubmissionStatusNeedsAttention
	}
	if summary.Input.Rows < policy.MinRowsForAttention {
		return domain.SubmissionStatusComplete
	}
	if summary.UnresolvedFraction() > policy.AttentionThreshold {
		return domain.SubmissionStatusNeedsAttention
	}
	return domain.SubmissionStatusComplete
}
