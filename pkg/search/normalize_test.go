package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/pricewise/pkg/models"
)

func TestDeriveID(t *testing.T) {
	a := DeriveID("https://example.com/item", "Title", "Shop")
	b := DeriveID("https://example.com/item", "Other", "Elsewhere")
	assert.Equal(t, a, b, "link wins over title and source")
	assert.Len(t, a, 32)

	c := DeriveID("", "Title", "Shop")
	assert.Equal(t, c, DeriveID("", "Title", "Shop"))
	assert.NotEqual(t, a, c)
	// md5("TitleShop")
	assert.Equal(t, "3b14f798b4337fd0df2d07c0b6e442ab", DeriveID("", "Title", "Shop"))
}

func TestNormalizePrice(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want string
		ok   bool
	}{
		{name: "string price", raw: map[string]any{"price": "$45.00", "extracted_price": 45.0}, want: "$45.00", ok: true},
		{name: "numeric extracted", raw: map[string]any{"extracted_price": 1299.0}, want: "₹1,299", ok: true},
		{name: "fractional extracted", raw: map[string]any{"extracted_price": 1299.5}, want: "₹1,299.5", ok: true},
		{name: "blank string falls through", raw: map[string]any{"price": " ", "extracted_price": 10.0}, want: "₹10", ok: true},
		{name: "nothing usable", raw: map[string]any{"title": "x"}, want: models.PriceUnavailable, ok: false},
		{name: "zero extracted", raw: map[string]any{"extracted_price": 0.0}, want: models.PriceUnavailable, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizePrice(tt.raw, "₹")
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestNormalizeListing(t *testing.T) {
	listing, ok := NormalizeListing(map[string]any{
		"title":        "Kettle",
		"source":       "Croma",
		"product_link": "https://example.com/kettle",
		"price":        "₹899",
	}, "₹")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/kettle", listing.Link)
	// product_link is not used for id derivation
	assert.Equal(t, DeriveID("", "Kettle", "Croma"), listing.ProductID)
	assert.True(t, listing.IDDerived)
	assert.Nil(t, listing.Thumbnail)

	_, ok = NormalizeListing([]any{"x"}, "₹")
	assert.False(t, ok)
}
