package tabular

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/smallbiznis/commissions/internal/adapter"
	"github.com/smallbiznis/commissions/internal/commission/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const testLayouts = `
layouts:
  - variant: Acme-CSV
    format: csv
    headerRow: 2
    skipTotals: true
    columns:
      customer: ["Sold To", "Customer"]
      city: ["City"]
      state: ["ST", "State"]
      invoice: ["Invoice Amount"]
      commission: ["Commission"]
  - variant: globex-xlsx
    format: xlsx
    sheet: Report
    columns:
      idString: ["Account Key"]
      invoice: ["Sales"]
    commissionRate: "0.05"
`

func mustAdapter(t *testing.T, variant string) *Adapter {
	t.Helper()
	layouts, err := ParseLayouts([]byte(testLayouts))
	require.NoError(t, err)
	reg := adapter.NewRegistry()
	require.NoError(t, Register(reg, layouts, zap.NewNop()))
	a, err := reg.Lookup(variant)
	require.NoError(t, err)
	return a.(*Adapter)
}

func TestCSVReportIsNormalized(t *testing.T) {
	a := mustAdapter(t, "acme-csv")
	file := strings.Join([]string{
		"ACME commission statement,,,,",
		"Sold To,  City ,ST,Invoice Amount,Commission",
		"Acme Corp,Metropolis,NY,\"$1,000.00\",$100.00",
		",,,,",
		"Globex,Smallville,KS,25.00,(2.50)",
		"Total,,,\"1,025.00\",97.50",
	}, "\n")

	batch, notes, err := a.Preprocess(context.Background(), adapter.PreprocessRequest{
		Variant: "acme-csv",
		File:    strings.NewReader(file),
	})
	require.NoError(t, err)
	require.Len(t, batch, 2)

	assert.Equal(t, "Acme Corp", batch[0].CustomerRef)
	assert.Equal(t, "Metropolis", batch[0].CityRef)
	assert.Equal(t, "NY", batch[0].StateRef)
	assert.Equal(t, int64(100000), batch[0].InvoiceCents)
	assert.Equal(t, int64(10000), batch[0].CommissionCents)
	assert.Equal(t, 3, batch[0].SourceRow)

	assert.Equal(t, int64(2500), batch[1].InvoiceCents)
	assert.Equal(t, int64(-250), batch[1].CommissionCents)
	assert.Equal(t, 5, batch[1].SourceRow)

	assert.Equal(t, []string{
		"Skipped 1 preamble row(s) above the header",
		`Normalized headers: "Invoice Amount" -> invoice, "ST" -> state, "Sold To" -> customer`,
		"Converted currency text to integer cents for 2 row(s)",
		"Dropped 1 blank row(s)",
		"Dropped 1 totals row(s)",
	}, notes)
}

func TestCSVMissingColumnIsMalformed(t *testing.T) {
	a := mustAdapter(t, "acme-csv")
	file := "preamble\nSold To,City,Invoice Amount,Commission\nAcme,Metropolis,1,1\n"

	_, _, err := a.Preprocess(context.Background(), adapter.PreprocessRequest{File: strings.NewReader(file)})
	require.ErrorIs(t, err, adapter.ErrMalformedFile)
	assert.Contains(t, err.Error(), "state")
}

func TestCSVBadAmountIsMalformed(t *testing.T) {
	a := mustAdapter(t, "acme-csv")
	file := "preamble\nSold To,City,ST,Invoice Amount,Commission\nAcme,Metropolis,NY,twelve,1\n"

	_, _, err := a.Preprocess(context.Background(), adapter.PreprocessRequest{File: strings.NewReader(file)})
	require.ErrorIs(t, err, adapter.ErrMalformedFile)
	assert.Contains(t, err.Error(), "row 3")
}

func TestMissingHeaderRowIsMalformed(t *testing.T) {
	a := mustAdapter(t, "acme-csv")
	_, _, err := a.Preprocess(context.Background(), adapter.PreprocessRequest{File: strings.NewReader("only one line\n")})
	assert.ErrorIs(t, err, adapter.ErrMalformedFile)
}

func buildWorkbook(t *testing.T, sheet string, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetName("Sheet1", sheet))
	for i, row := range rows {
		ref, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		values := row
		require.NoError(t, f.SetSheetRow(sheet, ref, &values))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestXLSXIDStringReportDerivesCommission(t *testing.T) {
	a := mustAdapter(t, "globex-xlsx")
	buf := buildWorkbook(t, "Report", [][]any{
		{"Account Key", "Sales"},
		{"ACMECORPMETROPOLISNY", 1234.5},
		{"GLOBEXGOTHAMNJ", "$10.01"},
	})

	batch, notes, err := a.Preprocess(context.Background(), adapter.PreprocessRequest{File: buf})
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "ACMECORPMETROPOLISNY", batch[0].IDString)
	assert.Equal(t, int64(123450), batch[0].InvoiceCents)
	assert.Equal(t, int64(6173), batch[0].CommissionCents)
	assert.Equal(t, int64(1001), batch[1].InvoiceCents)
	assert.Equal(t, int64(50), batch[1].CommissionCents)
	assert.Contains(t, notes, "Derived commission at rate 0.05 for 2 row(s)")
}

func TestXLSXMissingSheetIsMalformed(t *testing.T) {
	a := mustAdapter(t, "globex-xlsx")
	buf := buildWorkbook(t, "Other", [][]any{{"Account Key", "Sales"}})

	_, _, err := a.Preprocess(context.Background(), adapter.PreprocessRequest{File: buf})
	assert.ErrorIs(t, err, adapter.ErrMalformedFile)
}

func TestGarbageWorkbookIsMalformed(t *testing.T) {
	a := mustAdapter(t, "globex-xlsx")
	_, _, err := a.Preprocess(context.Background(), adapter.PreprocessRequest{File: strings.NewReader("not a zip")})
	assert.ErrorIs(t, err, adapter.ErrMalformedFile)
}

func TestParseLayoutsRejectsIncompleteLayouts(t *testing.T) {
	cases := map[string]string{
		"no variant":      "layouts:\n  - format: csv\n",
		"bad format":      "layouts:\n  - variant: x\n    format: pdf\n",
		"no location":     "layouts:\n  - variant: x\n    columns:\n      customer: [a]\n      invoice: [b]\n      commission: [c]\n",
		"no commission":   "layouts:\n  - variant: x\n    columns:\n      idString: [a]\n      invoice: [b]\n",
		"bad rate":        "layouts:\n  - variant: x\n    commissionRate: abc\n    columns:\n      idString: [a]\n      invoice: [b]\n",
		"duplicate":       "layouts:\n  - variant: x\n    columns: {idString: [a], invoice: [b], commission: [c]}\n  - variant: X\n    columns: {idString: [a], invoice: [b], commission: [c]}\n",
		"not yaml at all": "layouts: [",
	}
	for name, doc := range cases {
		_, err := ParseLayouts([]byte(doc))
		assert.ErrorIs(t, err, ErrInvalidLayout, name)
	}
}

func TestTotalsRowDetection(t *testing.T) {
	assert.True(t, isTotalsRow(domain.LineItem{CustomerRef: "Total"}))
	assert.True(t, isTotalsRow(domain.LineItem{CustomerRef: " grand  total: "}))
	assert.True(t, isTotalsRow(domain.LineItem{IDString: "TOTALS"}))
	assert.False(t, isTotalsRow(domain.LineItem{CustomerRef: "Total Wine & More"}))
	assert.False(t, isTotalsRow(domain.LineItem{CustomerRef: "Acme Total Supply"}))
	assert.False(t, isTotalsRow(domain.LineItem{CustomerRef: "Total", CityRef: "Metropolis", StateRef: "NY"}))
}

func TestCustomerNamedTotalIsKept(t *testing.T) {
	a := mustAdapter(t, "acme-csv")
	csv := strings.Join([]string{
		"ACME commission statement,,,,",
		"Customer,City,ST,Invoice Amount,Commission",
		"Total Wine & More,Metropolis,NY,500.00,50.00",
		"Acme Corp,Metropolis,NY,100.00,10.00",
		"Total,,,600.00,60.00",
	}, "\n")

	batch, notes, err := a.Preprocess(context.Background(), adapter.PreprocessRequest{File: strings.NewReader(csv)})
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "Total Wine & More", batch[0].CustomerRef)
	assert.Equal(t, int64(50000), batch[0].InvoiceCents)
	assert.Equal(t, domain.Totals{Rows: 2, InvoiceCents: 60000, CommissionCents: 6000}, batch.Totals())
	assert.Contains(t, notes, "Dropped 1 totals row(s)")
}
