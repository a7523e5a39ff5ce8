package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		amount   string
		currency string
	}{
		{name: "rupee with separators", input: "₹1,299", amount: "1299", currency: "INR"},
		{name: "indian grouping", input: "₹1,29,999", amount: "129999", currency: "INR"},
		{name: "dollar decimals", input: "$50.00", amount: "50", currency: "USD"},
		{name: "rs prefix with space", input: "Rs. 45", amount: "45", currency: "INR"},
		{name: "code suffix", input: "12.5 EUR", amount: "12.5", currency: "EUR"},
		{name: "bare number", input: "899", amount: "899", currency: ""},
		{name: "surrounding whitespace", input: "  £7.99 ", amount: "7.99", currency: "GBP"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse(tt.input)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.amount).Equal(p.Amount), "got %s", p.Amount)
			assert.Equal(t, tt.currency, p.Currency)
		})
	}
}

func TestParse_Rejects(t *testing.T) {
	for _, input := range []string{"", "Price N/A", "$", "1.2.3", "about $40", "₹12k"} {
		_, err := Parse(input)
		assert.ErrorIs(t, err, ErrUnparseable, input)
	}
}

func TestSameValue(t *testing.T) {
	assert.True(t, SameValue("$50.00", "$50"))
	assert.True(t, SameValue("₹1,299", "₹1299"))
	assert.True(t, SameValue("Rs. 1,299", "₹1,299"))
	assert.False(t, SameValue("$45", "$50"))
	assert.False(t, SameValue("$50", "€50"))

	// unparseable falls back to exact comparison
	assert.True(t, SameValue("Call for price", "Call for price"))
	assert.False(t, SameValue("Call for price", "$50"))
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "₹1,299", FormatAmount("₹", decimal.NewFromInt(1299)))
	assert.Equal(t, "₹999", FormatAmount("₹", decimal.NewFromInt(999)))
	assert.Equal(t, "₹1,234,567", FormatAmount("₹", decimal.NewFromInt(1234567)))
	assert.Equal(t, "$12.5", FormatAmount("$", decimal.RequireFromString("12.50")))
	assert.Equal(t, "₹0", FormatAmount("₹", decimal.Zero))
}
