// Package pricing parses provider display prices so they can be compared by
// value rather than by their formatting.
package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrUnparseable = errors.New("unparseable price")

// currencies maps accepted prefixes and suffixes to a canonical code.
// Longer tokens come first so "Rs." wins over "Rs".
var currencies = []struct {
	token string
	code  string
}{
	{"US$", "USD"},
	{"Rs.", "INR"},
	{"INR", "INR"},
	{"USD", "USD"},
	{"EUR", "EUR"},
	{"GBP", "GBP"},
	{"Rs", "INR"},
	{"₹", "INR"},
	{"$", "USD"},
	{"€", "EUR"},
	{"£", "GBP"},
}

var symbols = map[string]string{
	"INR": "₹",
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
}

// Price is a parsed display price. Currency is empty when the display string
// carried no recognizable currency marker.
type Price struct {
	Amount   decimal.Decimal
	Currency string
}

// Parse reads strings like "₹1,299", "$50.00", "Rs. 45" or "12.5 EUR".
// Thousands separators are dropped; a single '.' is the decimal point.
func Parse(display string) (Price, error) {
	s := strings.TrimSpace(display)
	if s == "" {
		return Price{}, fmt.Errorf("%w: empty", ErrUnparseable)
	}

	var currency string
	for _, c := range currencies {
		if strings.HasPrefix(s, c.token) {
			currency = c.code
			s = strings.TrimSpace(strings.TrimPrefix(s, c.token))
			break
		}
		if strings.HasSuffix(s, c.token) {
			currency = c.code
			s = strings.TrimSpace(strings.TrimSuffix(s, c.token))
			break
		}
	}

	s = strings.ReplaceAll(s, ",", "")
	if s == "" || strings.Count(s, ".") > 1 {
		return Price{}, fmt.Errorf("%w: %q", ErrUnparseable, display)
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return Price{}, fmt.Errorf("%w: %q", ErrUnparseable, display)
		}
	}

	amount, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, fmt.Errorf("%w: %q", ErrUnparseable, display)
	}
	return Price{Amount: amount, Currency: currency}, nil
}

// Equal compares by amount. Prices with different known currencies are never
// equal; a missing currency on either side matches any currency.
func (p Price) Equal(other Price) bool {
	if p.Currency != "" && other.Currency != "" && p.Currency != other.Currency {
		return false
	}
	return p.Amount.Equal(other.Amount)
}

func (p Price) String() string {
	return Symbol(p.Currency) + p.Amount.String()
}

// Symbol returns the display symbol for a currency code, or the code itself.
func Symbol(code string) string {
	if s, ok := symbols[code]; ok {
		return s
	}
	return code
}

// SameValue reports whether two display strings denote the same price. When
// either side cannot be parsed the strings must match exactly.
func SameValue(a, b string) bool {
	pa, errA := Parse(a)
	pb, errB := Parse(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return pa.Equal(pb)
}

// FormatAmount renders a numeric amount with comma thousands separators and
// the given symbol prefix, e.g. ("₹", 1299) -> "₹1,299". Trailing zero
// decimals are dropped.
func FormatAmount(symbol string, amount decimal.Decimal) string {
	neg := amount.IsNegative()
	s := amount.Abs().String()

	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}

	out := symbol
	if neg {
		out = "-" + out
	}
	out += b.String()
	if frac != "" {
		out += "." + frac
	}
	return out
}
