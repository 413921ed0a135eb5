package steps

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	commissiondomain "github.com/smallbiznis/commissions/internal/commission/domain"
)

var ErrEmptyDescription = errors.New("empty_step_description")

// Writer persists processing steps.
type Writer interface {
	RecordProcessingStep(ctx context.Context, step *commissiondomain.ProcessingStep) error
	LastStepNumber(ctx context.Context, submissionID snowflake.ID) (int, error)
}

// Ledger numbers the audit trail of one submission. Each pipeline run owns
// its own Ledger; numbers are never shared across submissions.
type Ledger struct {
	mu           sync.Mutex
	submissionID snowflake.ID
	next         int
	writer       Writer
	now          func() time.Time
}

func NewLedger(submissionID snowflake.ID, writer Writer) *Ledger {
	return &Ledger{
		submissionID: submissionID,
		next:         1,
		writer:       writer,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Resume returns a ledger continuing after the last step already stored
// for the submission.
func Resume(ctx context.Context, submissionID snowflake.ID, writer Writer) (*Ledger, error) {
	ledger := NewLedger(submissionID, writer)
	last, err := writer.LastStepNumber(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if err := ledger.SetStart(last + 1); err != nil {
		return nil, err
	}
	return ledger, nil
}

// SetStart sets the number the next recorded step receives.
func (l *Ledger) SetStart(n int) error {
	if n < 1 {
		return commissiondomain.ErrInvalidStepNumber
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next = n
	return nil
}

// Next reports the number the next recorded step will receive.
func (l *Ledger) Next() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next
}

// Record persists description under the next step number. The counter only
// advances once the write succeeded.
func (l *Ledger) Record(ctx context.Context, description string) (commissiondomain.ProcessingStep, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recordLocked(ctx, description)
}

// RecordBatch persists descriptions under contiguous step numbers.
func (l *Ledger) RecordBatch(ctx context.Context, descriptions []string) ([]commissiondomain.ProcessingStep, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]commissiondomain.ProcessingStep, 0, len(descriptions))
	for _, description := range descriptions {
		step, err := l.recordLocked(ctx, description)
		if err != nil {
			return out, err
		}
		out = append(out, step)
	}
	return out, nil
}

func (l *Ledger) recordLocked(ctx context.Context, description string) (commissiondomain.ProcessingStep, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return commissiondomain.ProcessingStep{}, ErrEmptyDescription
	}
	step := commissiondomain.ProcessingStep{
		SubmissionID: l.submissionID,
		StepNumber:   l.next,
		Description:  description,
		CreatedAt:    l.now(),
	}
	if err := l.writer.RecordProcessingStep(ctx, &step); err != nil {
		return commissiondomain.ProcessingStep{}, err
	}
	l.next++
	return step, nil
}
