package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/commissions/internal/clock"
	"github.com/smallbiznis/commissions/internal/commission/domain"
	"github.com/smallbiznis/commissions/internal/eventbus"
	"github.com/smallbiznis/commissions/internal/observability/metrics"
	"github.com/smallbiznis/commissions/internal/resolution"
	"github.com/smallbiznis/commissions/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

var (
	ErrUnexpectedContext = errors.New("unexpected_event_context")
	ErrUnexpectedPayload = errors.New("unexpected_event_payload")
)

var kindReasons = map[domain.ErrorKind]string{
	domain.ErrorKindCustomerNotFound:          "customer not found in the customer mapping",
	domain.ErrorKindCityNotFound:              "city not found in the city mapping",
	domain.ErrorKindStateNotFound:             "state not found in the state mapping",
	domain.ErrorKindBranchNotFound:            "no branch registered for the customer location",
	domain.ErrorKindRepresentativeNotAssigned: "branch has no assigned representative",
}

type SubscriberParams struct {
	fx.In

	Repo    domain.Repository
	Metrics *metrics.Metrics `optional:"true"`
	Clock   clock.Clock      `optional:"true"`
	Log     *zap.Logger
}

// Subscribers persists the side effects of pipeline events: error rows,
// audit steps and row-error metrics.
type Subscribers struct {
	repo    domain.Repository
	metrics *metrics.Metrics
	clock   clock.Clock
	log     *zap.Logger
}

func NewSubscribers(p SubscriberParams) *Subscribers {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Subscribers{
		repo:    p.Repo,
		metrics: p.Metrics,
		clock:   clk,
		log:     log.Named("pipeline.subscribers"),
	}
}

// Register subscribes every handler. For error topics the error rows are
// written before the step describing them.
func (s *Subscribers) Register(bus *eventbus.Bus) {
	for _, kind := range domain.ErrorKinds() {
		topic := TopicFor(kind)
		bus.Subscribe(topic, "pipeline.errors", s.recordErrors)
		bus.Subscribe(topic, "pipeline.error_step", s.recordErrorStep)
		bus.Subscribe(topic, "pipeline.error_metrics", s.countErrors)
	}
	bus.Subscribe(eventbus.TopicRowsRemoved, "pipeline.rows_removed_step", s.recordRowsRemoved)
	bus.Subscribe(eventbus.TopicDataRecorded, "pipeline.data_recorded_step", s.recordDataRecorded)
	bus.Subscribe(eventbus.TopicFormatting, "pipeline.formatting_step", s.recordFormatting)
}

func (s *Subscribers) recordErrors(ctx context.Context, evt eventbus.Event) error {
	sc, err := submissionContext(evt)
	if err != nil {
		return err
	}
	payload, ok := evt.Payload.(RowsAffected)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnexpectedPayload, evt.Payload)
	}
	if len(payload.Rows) == 0 {
		return nil
	}

	now := s.clock.Now()
	records := make([]domain.ErrorRecord, 0, len(payload.Rows))
	for _, row := range payload.Rows {
		field, value := resolution.Describe(payload.Kind, row)
		records = append(records, domain.ErrorRecord{
			SubmissionID:    sc.Submission.ID,
			Kind:            payload.Kind,
			RowKey:          row.RowKey,
			Row:             datatypes.JSON(row.Snapshot()),
			Field:           optional(field),
			Value:           optional(value),
			InvoiceCents:    row.InvoiceCents,
			CommissionCents: row.CommissionCents,
			CreatedAt:       now,
		})
	}
	return s.repo.RecordErrors(ctx, records)
}

func (s *Subscribers) recordErrorStep(ctx context.Context, evt eventbus.Event) error {
	sc, err := submissionContext(evt)
	if err != nil {
		return err
	}
	payload, ok := evt.Payload.(RowsAffected)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnexpectedPayload, evt.Payload)
	}
	if len(payload.Rows) == 0 {
		return nil
	}
	_, err = sc.Ledger.Record(ctx, fmt.Sprintf("%d row(s) filed as %s during %s resolution: %s",
		len(payload.Rows), payload.Kind, payload.Stage, kindReasons[payload.Kind]))
	return err
}

func (s *Subscribers) countErrors(ctx context.Context, evt eventbus.Event) error {
	payload, ok := evt.Payload.(RowsAffected)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnexpectedPayload, evt.Payload)
	}
	s.metrics.RecordRowErrors(ctx, string(payload.Kind), len(payload.Rows))
	return nil
}

func (s *Subscribers) recordRowsRemoved(ctx context.Context, evt eventbus.Event) error {
	sc, err := submissionContext(evt)
	if err != nil {
		return err
	}
	payload, ok := evt.Payload.(RowsRemoved)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnexpectedPayload, evt.Payload)
	}
	_, err = sc.Ledger.Record(ctx, fmt.Sprintf(
		"Removed %d row(s) without a complete identifier set after %s resolution (invoice %s, commission %s)",
		payload.Totals.Rows, payload.Stage,
		money.FormatCents(payload.Totals.InvoiceCents),
		money.FormatCents(payload.Totals.CommissionCents),
	))
	return err
}

func (s *Subscribers) recordDataRecorded(ctx context.Context, evt eventbus.Event) error {
	sc, err := submissionContext(evt)
	if err != nil {
		return err
	}
	payload, ok := evt.Payload.(DataRecorded)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnexpectedPayload, evt.Payload)
	}

	descriptions := []string{fmt.Sprintf("Recorded %d commission row(s) (invoice %s, commission %s)",
		payload.Totals.Rows,
		money.FormatCents(payload.Totals.InvoiceCents),
		money.FormatCents(payload.Totals.CommissionCents),
	)}
	if declared := payload.DeclaredCommissionCents; declared != nil {
		diff := *declared - payload.Totals.CommissionCents
		if diff == 0 {
			descriptions = append(descriptions, fmt.Sprintf("Recorded commission matches the declared total of %s",
				money.FormatCents(*declared)))
		} else {
			descriptions = append(descriptions, fmt.Sprintf("Declared commission %s differs from recorded commission by %s",
				money.FormatCents(*declared), money.FormatCents(diff)))
		}
	}
	_, err = sc.Ledger.RecordBatch(ctx, descriptions)
	return err
}

func (s *Subscribers) recordFormatting(ctx context.Context, evt eventbus.Event) error {
	sc, err := submissionContext(evt)
	if err != nil {
		return err
	}
	payload, ok := evt.Payload.(Formatting)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnexpectedPayload, evt.Payload)
	}
	_, err = sc.Ledger.Record(ctx, payload.Note)
	return err
}

func submissionContext(evt eventbus.Event) (*SubmissionContext, error) {
	sc, ok := evt.Context.(*SubmissionContext)
	if !ok || sc == nil || sc.Ledger == nil {
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedContext, evt.Context)
	}
	return sc, nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
