package models

import (
	"time"

	"github.com/google/uuid"
)

// PricePoint is one entry of a product's price history.
type PricePoint struct {
	Price     string    `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// TrackedProduct is a product whose price is re-checked on every pass.
// ProductID is the provider's identifier and the join key for fresh search
// results. History is append-only and never empty once the product exists.
type TrackedProduct struct {
	ID          uuid.UUID    `json:"id"`
	ProductID   string       `json:"product_id"`
	Title       string       `json:"title"`
	Price       string       `json:"price"`
	Source      string       `json:"source"`
	Link        string       `json:"link"`
	Thumbnail   *string      `json:"thumbnail,omitempty"`
	Rating      *float64     `json:"rating,omitempty"`
	Reviews     *int         `json:"reviews,omitempty"`
	History     []PricePoint `json:"history"`
	LastUpdated time.Time    `json:"last_updated"`
	CreatedAt   time.Time    `json:"created_at"`
}

// LastPoint returns the tail of the history.
func (p *TrackedProduct) LastPoint() (PricePoint, bool) {
	if len(p.History) == 0 {
		return PricePoint{}, false
	}
	return p.History[len(p.History)-1], true
}

// NewTrackedProduct builds a product from a listing, seeding the history
// with the listing's price.
func NewTrackedProduct(listing CandidateListing, now time.Time) *TrackedProduct {
	return &TrackedProduct{
		ID:          uuid.New(),
		ProductID:   listing.ProductID,
		Title:       listing.Title,
		Price:       listing.Price,
		Source:      listing.Source,
		Link:        listing.Link,
		Thumbnail:   listing.Thumbnail,
		Rating:      listing.Rating,
		Reviews:     listing.Reviews,
		History:     []PricePoint{{Price: listing.Price, Timestamp: now}},
		LastUpdated: now,
		CreatedAt:   now,
	}
}
