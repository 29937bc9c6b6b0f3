package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRoundToUnit(t *testing.T) {
	tests := []struct {
		name string
		in   string
		unit string
		want string
	}{
		{name: "no unit", in: "12.5", unit: "0", want: "13"},
		{name: "unit 1", in: "12.4", unit: "1", want: "12"},
		{name: "unit 5 down", in: "122", unit: "5", want: "120"},
		{name: "unit 5 up", in: "123", unit: "5", want: "125"},
		{name: "unit 10 half", in: "125", unit: "10", want: "130"},
		{name: "exact", in: "120", unit: "10", want: "120"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RoundToUnit(d(tt.in), d(tt.unit))
			assert.True(t, got.Equal(d(tt.want)), "RoundToUnit() = %s, want %s", got, tt.want)
		})
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		name       string
		in, lo, hi string
		want       string
	}{
		{name: "within", in: "50", lo: "0", hi: "100", want: "50"},
		{name: "above", in: "150", lo: "0", hi: "100", want: "100"},
		{name: "below", in: "5", lo: "10", hi: "100", want: "10"},
		{name: "uncapped", in: "5000", lo: "0", hi: "0", want: "5000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Clamp(d(tt.in), d(tt.lo), d(tt.hi))
			assert.True(t, got.Equal(d(tt.want)), "Clamp() = %s, want %s", got, tt.want)
		})
	}
}

func TestWithTax(t *testing.T) {
	assert.True(t, WithTax(d("1000"), d("16")).Equal(d("1160")))
	assert.True(t, WithTax(d("999"), d("0")).Equal(d("999")))
	assert.True(t, WithTax(d("333"), d("10")).Equal(d("366")))
}

func TestParse(t *testing.T) {
	got, err := Parse("1200.50")
	require.NoError(t, err)
	assert.True(t, got.Equal(d("1200.5")))

	_, err = Parse("lol")
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Parse("-1")
	assert.ErrorIs(t, err, ErrInvalid)
}
