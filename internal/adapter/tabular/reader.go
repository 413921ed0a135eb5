package tabular

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/smallbiznis/commissions/internal/adapter"
	"github.com/xuri/excelize/v2"
)

// readRecords returns every row of the report as raw cell text.
func readRecords(layout Layout, r io.Reader) ([][]string, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: no file", adapter.ErrMalformedFile)
	}
	switch layout.Format {
	case FormatXLSX:
		return readXLSX(layout, r)
	default:
		return readCSV(layout, r)
	}
}

func readCSV(layout Layout, r io.Reader) ([][]string, error) {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.Comma = []rune(layout.Delimiter)[0]
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, fmt.Errorf("%w: line %d: %v", adapter.ErrMalformedFile, parseErr.Line, parseErr.Err)
		}
		return nil, fmt.Errorf("%w: %v", adapter.ErrMalformedFile, err)
	}
	return records, nil
}

func readXLSX(layout Layout, r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", adapter.ErrMalformedFile, err)
	}
	defer f.Close()

	sheet := layout.Sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("%w: sheet %q not found", adapter.ErrMalformedFile, sheet)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %q: %v", adapter.ErrMalformedFile, sheet, err)
	}
	return rows, nil
}
