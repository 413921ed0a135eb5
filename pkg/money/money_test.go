package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCentsRoundTrip(t *testing.T) {
	values := []int64{0, 1, 9, 10, 99, 100, 101, 12345, 999_999_99, 1 << 40}
	for i := int64(0); i < 2000; i++ {
		values = append(values, i*7919)
	}
	for _, cents := range values {
		assert.Equal(t, cents, DollarsToCents(CentsToDollars(cents)), "cents=%d", cents)
	}
}

func TestDollarsToCentsRounding(t *testing.T) {
	cases := map[string]int64{
		"0.005":   1,
		"0.004":   0,
		"12.345":  1235,
		"-12.345": -1235,
		"1.10":    110,
	}
	for raw, want := range cases {
		assert.Equal(t, want, DollarsToCents(decimal.RequireFromString(raw)), raw)
	}
}

func TestParseCents(t *testing.T) {
	cases := []struct {
		raw  string
		want int64
	}{
		{"$1,234.56", 123456},
		{"1234", 123400},
		{"(12.00)", -1200},
		{"-7.5", -750},
		{"7.50-", -750},
		{" $ 0.99 ", 99},
	}
	for _, tc := range cases {
		got, err := ParseCents(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}

func TestParseCentsRejectsGarbage(t *testing.T) {
	_, err := ParseCents("")
	assert.ErrorIs(t, err, ErrEmptyAmount)

	_, err = ParseCents("N/A")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ParseCents("$")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "12.34", FormatCents(1234))
	assert.Equal(t, "-0.05", FormatCents(-5))
	assert.Equal(t, "0.00", FormatCents(0))
}
