package domain

import (
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// LineItem is the pipeline's working row. Amounts are integer cents.
// Resolved ids are zero until the matching stage succeeds.
type LineItem struct {
	RowKey       string       `json:"row_key"`
	SourceRow    int          `json:"source_row"`
	SubmissionID snowflake.ID `json:"submission_id"`

	CustomerRef string `json:"customer_ref,omitempty"`
	CityRef     string `json:"city_ref,omitempty"`
	StateRef    string `json:"state_ref,omitempty"`
	IDString    string `json:"id_string,omitempty"`

	InvoiceCents    int64 `json:"invoice_cents"`
	CommissionCents int64 `json:"commission_cents"`

	CustomerID       int64 `json:"customer_id"`
	CityID           int64 `json:"city_id"`
	StateID          int64 `json:"state_id"`
	BranchID         int64 `json:"branch_id"`
	RepresentativeID int64 `json:"representative_id"`
}

// Snapshot serializes the row for forensic replay.
func (li LineItem) Snapshot() []byte {
	raw, err := json.Marshal(li)
	if err != nil {
		return []byte("{}")
	}
	return raw
}

// Column names an identifier column of the working batch.
type Column string

const (
	ColumnCustomer Column = "customer_id"
	ColumnCity     Column = "city_id"
	ColumnState    Column = "state_id"
	ColumnBranch   Column = "branch_id"
)

// Value returns the resolved id held in col.
func (li LineItem) Value(col Column) int64 {
	switch col {
	case ColumnCustomer:
		return li.CustomerID
	case ColumnCity:
		return li.CityID
	case ColumnState:
		return li.StateID
	case ColumnBranch:
		return li.BranchID
	default:
		return 0
	}
}

// Batch is an ordered table of line items.
type Batch []LineItem

// Totals holds aggregate amounts of a batch.
type Totals struct {
	Rows            int   `json:"rows"`
	InvoiceCents    int64 `json:"invoice_cents"`
	CommissionCents int64 `json:"commission_cents"`
}

// Totals sums the batch amounts.
func (b Batch) Totals() Totals {
	totals := Totals{Rows: len(b)}
	for _, item := range b {
		totals.InvoiceCents += item.InvoiceCents
		totals.CommissionCents += item.CommissionCents
	}
	return totals
}

// Partition splits the batch into rows satisfying keep and the rest,
// preserving order in both.
func (b Batch) Partition(keep func(LineItem) bool) (kept Batch, dropped Batch) {
	kept = make(Batch, 0, len(b))
	for _, item := range b {
		if keep(item) {
			kept = append(kept, item)
			continue
		}
		dropped = append(dropped, item)
	}
	return kept, dropped
}

// AllPresent returns a predicate matching rows whose listed columns are all resolved.
func AllPresent(cols ...Column) func(LineItem) bool {
	return func(item LineItem) bool {
		for _, col := range cols {
			if item.Value(col) == 0 {
				return false
			}
		}
		return true
	}
}

// Clone returns a copy that shares no backing array with b.
func (b Batch) Clone() Batch {
	if b == nil {
		return nil
	}
	out := make(Batch, len(b))
	copy(out, b)
	return out
}

// NormalizeLabel is the matching key for every mapping table.
func NormalizeLabel(label string) string {
	return strings.ToUpper(strings.TrimSpace(label))
}
