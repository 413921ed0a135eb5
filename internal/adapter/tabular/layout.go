package tabular

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Format is the container format of an uploaded report.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Columns lists the accepted header aliases for every canonical column.
type Columns struct {
	Customer   []string `yaml:"customer"`
	City       []string `yaml:"city"`
	State      []string `yaml:"state"`
	IDString   []string `yaml:"idString"`
	Invoice    []string `yaml:"invoice"`
	Commission []string `yaml:"commission"`
}

// Layout describes how one report variant lays out its line items.
type Layout struct {
	Variant   string  `yaml:"variant"`
	Format    Format  `yaml:"format"`
	Sheet     string  `yaml:"sheet"`
	Delimiter string  `yaml:"delimiter"`
	HeaderRow int     `yaml:"headerRow"`
	Columns   Columns `yaml:"columns"`
	// CommissionRate derives commission from invoice when the report has no
	// commission column, e.g. "0.05".
	CommissionRate string `yaml:"commissionRate"`
	// SkipTotals drops summary rows whose label starts with "TOTAL".
	SkipTotals bool `yaml:"skipTotals"`

	rate *decimal.Decimal
}

type layoutFile struct {
	Layouts []Layout `yaml:"layouts"`
}

var ErrInvalidLayout = errors.New("invalid_layout")

// LoadLayouts reads layout definitions from a YAML file.
func LoadLayouts(path string) ([]Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layouts %s: %w", path, err)
	}
	return ParseLayouts(data)
}

func ParseLayouts(data []byte) ([]Layout, error) {
	var file layoutFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}
	seen := make(map[string]struct{}, len(file.Layouts))
	for i := range file.Layouts {
		if err := file.Layouts[i].normalize(); err != nil {
			return nil, err
		}
		variant := file.Layouts[i].Variant
		if _, dup := seen[variant]; dup {
			return nil, fmt.Errorf("%w: variant %q defined twice", ErrInvalidLayout, variant)
		}
		seen[variant] = struct{}{}
	}
	return file.Layouts, nil
}

func (l *Layout) normalize() error {
	l.Variant = strings.ToLower(strings.TrimSpace(l.Variant))
	if l.Variant == "" {
		return fmt.Errorf("%w: variant is required", ErrInvalidLayout)
	}
	l.Format = Format(strings.ToLower(strings.TrimSpace(string(l.Format))))
	switch l.Format {
	case "":
		l.Format = FormatCSV
	case FormatCSV, FormatXLSX:
	default:
		return fmt.Errorf("%w: %s: unsupported format %q", ErrInvalidLayout, l.Variant, l.Format)
	}
	if l.HeaderRow <= 0 {
		l.HeaderRow = 1
	}
	if l.Delimiter == "" {
		l.Delimiter = ","
	}
	if len([]rune(l.Delimiter)) != 1 {
		return fmt.Errorf("%w: %s: delimiter must be a single character", ErrInvalidLayout, l.Variant)
	}

	hasLocation := len(l.Columns.Customer) > 0 && len(l.Columns.City) > 0 && len(l.Columns.State) > 0
	if !hasLocation && len(l.Columns.IDString) == 0 {
		return fmt.Errorf("%w: %s: needs customer, city and state columns or an idString column", ErrInvalidLayout, l.Variant)
	}
	if len(l.Columns.Invoice) == 0 {
		return fmt.Errorf("%w: %s: invoice column is required", ErrInvalidLayout, l.Variant)
	}

	if rate := strings.TrimSpace(l.CommissionRate); rate != "" {
		parsed, err := decimal.NewFromString(rate)
		if err != nil || parsed.IsNegative() {
			return fmt.Errorf("%w: %s: invalid commissionRate %q", ErrInvalidLayout, l.Variant, rate)
		}
		l.rate = &parsed
	}
	if len(l.Columns.Commission) == 0 && l.rate == nil {
		return fmt.Errorf("%w: %s: needs a commission column or commissionRate", ErrInvalidLayout, l.Variant)
	}
	return nil
}

// usesIDString reports whether rows carry a composite id-string instead of
// separate location columns.
func (l Layout) usesIDString() bool {
	return len(l.Columns.IDString) > 0
}
