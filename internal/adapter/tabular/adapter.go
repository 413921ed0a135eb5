package tabular

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/commissions/internal/adapter"
	"github.com/smallbiznis/commissions/internal/commission/domain"
	"github.com/smallbiznis/commissions/pkg/money"
	"go.uber.org/zap"
)

type column string

const (
	colCustomer   column = "customer"
	colCity       column = "city"
	colState      column = "state"
	colIDString   column = "id_string"
	colInvoice    column = "invoice"
	colCommission column = "commission"
)

// Adapter normalizes CSV or XLSX reports described by a Layout.
type Adapter struct {
	layout Layout
	log    *zap.Logger
}

func New(layout Layout, log *zap.Logger) (*Adapter, error) {
	if err := layout.normalize(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{
		layout: layout,
		log:    log.Named("adapter.tabular").With(zap.String("variant", layout.Variant)),
	}, nil
}

func (a *Adapter) Layout() Layout {
	return a.layout
}

// Preprocess implements adapter.Adapter.
func (a *Adapter) Preprocess(ctx context.Context, req adapter.PreprocessRequest) (domain.Batch, []string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	records, err := readRecords(a.layout, req.File)
	if err != nil {
		return nil, nil, err
	}
	if len(records) < a.layout.HeaderRow {
		return nil, nil, fmt.Errorf("%w: header row %d not found", adapter.ErrMalformedFile, a.layout.HeaderRow)
	}

	var notes []string
	if skipped := a.layout.HeaderRow - 1; skipped > 0 {
		notes = append(notes, fmt.Sprintf("Skipped %d preamble row(s) above the header", skipped))
	}

	index, renamed, err := a.matchHeader(records[a.layout.HeaderRow-1])
	if err != nil {
		return nil, nil, err
	}
	if len(renamed) > 0 {
		notes = append(notes, "Normalized headers: "+strings.Join(renamed, ", "))
	}

	var (
		batch     domain.Batch
		blank     int
		totals    int
		converted int
		derived   int
	)
	for i := a.layout.HeaderRow; i < len(records); i++ {
		record := records[i]
		sourceRow := i + 1
		if isBlank(record) {
			blank++
			continue
		}

		item := domain.LineItem{SourceRow: sourceRow}
		if a.layout.usesIDString() {
			item.IDString = strings.TrimSpace(cell(record, index, colIDString))
		}
		item.CustomerRef = strings.TrimSpace(cell(record, index, colCustomer))
		item.CityRef = strings.TrimSpace(cell(record, index, colCity))
		item.StateRef = strings.TrimSpace(cell(record, index, colState))

		if a.layout.SkipTotals && isTotalsRow(item) {
			totals++
			continue
		}

		rawInvoice := cell(record, index, colInvoice)
		item.InvoiceCents, err = money.ParseCents(rawInvoice)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: row %d invoice %q: %v", adapter.ErrMalformedFile, sourceRow, rawInvoice, err)
		}
		if _, ok := index[colCommission]; ok {
			rawCommission := cell(record, index, colCommission)
			item.CommissionCents, err = money.ParseCents(rawCommission)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: row %d commission %q: %v", adapter.ErrMalformedFile, sourceRow, rawCommission, err)
			}
		} else {
			item.CommissionCents = applyRate(item.InvoiceCents, *a.layout.rate)
			derived++
		}
		converted++
		batch = append(batch, item)
	}

	if converted > 0 {
		notes = append(notes, fmt.Sprintf("Converted currency text to integer cents for %d row(s)", converted))
	}
	if derived > 0 {
		notes = append(notes, fmt.Sprintf("Derived commission at rate %s for %d row(s)", a.layout.rate.String(), derived))
	}
	if blank > 0 {
		notes = append(notes, fmt.Sprintf("Dropped %d blank row(s)", blank))
	}
	if totals > 0 {
		notes = append(notes, fmt.Sprintf("Dropped %d totals row(s)", totals))
	}

	a.log.Debug("report preprocessed",
		zap.Int64("submission_id", req.Submission.ID.Int64()),
		zap.Int("rows", len(batch)),
		zap.Int("blank", blank),
		zap.Int("totals", totals),
	)
	return batch, notes, nil
}

// matchHeader maps each canonical column to its position in header and
// describes every header that was renamed.
func (a *Adapter) matchHeader(header []string) (map[column]int, []string, error) {
	aliases := map[column][]string{
		colCustomer:   a.layout.Columns.Customer,
		colCity:       a.layout.Columns.City,
		colState:      a.layout.Columns.State,
		colIDString:   a.layout.Columns.IDString,
		colInvoice:    a.layout.Columns.Invoice,
		colCommission: a.layout.Columns.Commission,
	}

	positions := make(map[string]int, len(header))
	for i, h := range header {
		key := normalizeHeader(h)
		if key == "" {
			continue
		}
		if _, taken := positions[key]; !taken {
			positions[key] = i
		}
	}

	index := make(map[column]int, len(aliases))
	var renamed []string
	for col, names := range aliases {
		for _, name := range names {
			pos, ok := positions[normalizeHeader(name)]
			if !ok {
				continue
			}
			index[col] = pos
			if original := strings.TrimSpace(header[pos]); normalizeHeader(original) != string(col) {
				renamed = append(renamed, fmt.Sprintf("%q -> %s", original, col))
			}
			break
		}
	}
	sort.Strings(renamed)

	required := []column{colInvoice}
	if a.layout.usesIDString() {
		required = append(required, colIDString)
	} else {
		required = append(required, colCustomer, colCity, colState)
	}
	if len(a.layout.Columns.Commission) > 0 && a.layout.rate == nil {
		required = append(required, colCommission)
	}

	var missing []string
	for _, col := range required {
		if _, ok := index[col]; !ok {
			missing = append(missing, string(col))
		}
	}
	if len(missing) > 0 {
		return nil, nil, fmt.Errorf("%w: missing column(s) %s", adapter.ErrMalformedFile, strings.Join(missing, ", "))
	}
	return index, renamed, nil
}

func normalizeHeader(h string) string {
	return strings.Join(strings.Fields(strings.ToLower(h)), " ")
}

func cell(record []string, index map[column]int, col column) string {
	pos, ok := index[col]
	if !ok || pos >= len(record) {
		return ""
	}
	return record[pos]
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

var totalsLabels = map[string]bool{
	"TOTAL":       true,
	"TOTALS":      true,
	"GRAND TOTAL": true,
	"SUBTOTAL":    true,
	"SUB TOTAL":   true,
}

// isTotalsRow matches a summary line: the label is exactly a totals label
// and no location is filled in. Customers whose names merely start with
// "Total" stay in the batch.
func isTotalsRow(item domain.LineItem) bool {
	if strings.TrimSpace(item.CityRef) != "" || strings.TrimSpace(item.StateRef) != "" {
		return false
	}
	for _, label := range []string{item.CustomerRef, item.IDString} {
		label = strings.Join(strings.Fields(strings.TrimSuffix(domain.NormalizeLabel(label), ":")), " ")
		if totalsLabels[label] {
			return true
		}
	}
	return false
}

func applyRate(invoiceCents int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(invoiceCents).Mul(rate).Round(0).IntPart()
}
