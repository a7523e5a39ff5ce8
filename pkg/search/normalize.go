package search

import (
	"crypto/md5"
	"encoding/hex"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Ramsey-B/pricewise/pkg/models"
	"github.com/Ramsey-B/pricewise/pkg/pricing"
)

// DeriveID builds a stable identifier for a result the provider sent without
// a product_id: the hex MD5 of the link, or of title+source when there is no
// link. Identical inputs always give the same ID.
func DeriveID(link, title, source string) string {
	key := link
	if key == "" {
		key = title + source
	}
	sum := md5.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}

// NormalizePrice picks the display price for a raw result. A non-empty
// "price" string wins; otherwise a numeric "extracted_price" is formatted with
// symbol and thousands separators. ok is false when neither is usable.
func NormalizePrice(raw map[string]any, symbol string) (display string, ok bool) {
	if s, isStr := raw["price"].(string); isStr && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s), true
	}
	if n, isNum := raw["price"].(float64); isNum && n > 0 {
		return formatNumber(symbol, n), true
	}
	if n, isNum := raw["extracted_price"].(float64); isNum && n > 0 && !math.IsInf(n, 0) {
		return formatNumber(symbol, n), true
	}
	return models.PriceUnavailable, false
}

func formatNumber(symbol string, n float64) string {
	return pricing.FormatAmount(symbol, decimal.NewFromFloat(n))
}

// NormalizeListing converts one raw provider result. Results that are not
// JSON objects are rejected.
func NormalizeListing(item any, symbol string) (models.CandidateListing, bool) {
	raw, ok := item.(map[string]any)
	if !ok {
		return models.CandidateListing{}, false
	}

	listing := models.CandidateListing{
		Title:     stringField(raw, "title"),
		Source:    stringField(raw, "source"),
		Link:      stringField(raw, "link"),
		ProductID: stringField(raw, "product_id"),
	}
	if listing.Link == "" {
		listing.Link = stringField(raw, "product_link")
	}
	listing.Price, listing.PriceAvailable = NormalizePrice(raw, symbol)

	if thumb := stringField(raw, "thumbnail"); thumb != "" {
		listing.Thumbnail = &thumb
	}
	if rating, ok := raw["rating"].(float64); ok {
		listing.Rating = &rating
	}
	if reviews, ok := raw["reviews"].(float64); ok {
		n := int(reviews)
		listing.Reviews = &n
	}

	if listing.ProductID == "" {
		listing.ProductID = DeriveID(stringField(raw, "link"), listing.Title, listing.Source)
		listing.IDDerived = true
	}
	return listing, true
}

// stringField reads a string value. Numeric ids are rendered without
// exponent so they stay stable.
func stringField(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case float64:
		return decimal.NewFromFloat(v).String()
	default:
		return ""
	}
}
