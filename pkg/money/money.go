// Package money converts between dollar amounts and integer cents at the
// edges of the system. Everything past the adapter boundary uses cents.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount = errors.New("invalid_amount")
	ErrEmptyAmount   = errors.New("empty_amount")
)

var hundred = decimal.NewFromInt(100)

// DollarsToCents rounds a dollar amount half away from zero to whole cents.
func DollarsToCents(dollars decimal.Decimal) int64 {
	return dollars.Mul(hundred).Round(0).IntPart()
}

// CentsToDollars is the exact inverse of DollarsToCents for whole cents.
func CentsToDollars(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// FormatCents renders cents as a fixed two-decimal dollar string.
func FormatCents(cents int64) string {
	return CentsToDollars(cents).StringFixed(2)
}

// ParseCents parses report currency text such as "$1,234.56", "(12.00)",
// "-7.5" or "1234" into cents.
func ParseCents(raw string) (int64, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, ErrEmptyAmount
	}

	negative := false
	if strings.HasPrefix(value, "(") && strings.HasSuffix(value, ")") {
		negative = true
		value = strings.TrimSpace(value[1 : len(value)-1])
	}
	if strings.HasSuffix(value, "-") {
		negative = !negative
		value = strings.TrimSpace(strings.TrimSuffix(value, "-"))
	}

	value = strings.NewReplacer("$", "", ",", "", " ", "").Replace(value)
	if strings.HasPrefix(value, "-") {
		negative = !negative
		value = value[1:]
	}
	if value == "" {
		return 0, ErrInvalidAmount
	}

	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if negative {
		parsed = parsed.Neg()
	}
	return DollarsToCents(parsed), nil
}
