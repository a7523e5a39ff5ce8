package models

// PriceUnavailable is the display price of a listing the provider returned
// without any usable price.
const PriceUnavailable = "Price N/A"

// CandidateListing is a normalized search result. It only lives for the
// duration of one product's reconciliation.
type CandidateListing struct {
	ProductID string   `json:"product_id"`
	Title     string   `json:"title"`
	Price     string   `json:"price"`
	Source    string   `json:"source"`
	Link      string   `json:"link"`
	Thumbnail *string  `json:"thumbnail,omitempty"`
	Rating    *float64 `json:"rating,omitempty"`
	Reviews   *int     `json:"reviews,omitempty"`

	// PriceAvailable is false when Price is PriceUnavailable.
	PriceAvailable bool `json:"price_available"`
	// IDDerived is true when ProductID was hashed from the link or title.
	IDDerived bool `json:"id_derived"`
}
