package reconcile

import (
	"github.com/Ramsey-B/pricewise/pkg/models"
	"github.com/Ramsey-B/pricewise/pkg/pricing"
)

// Decide compares the matched listing's price with the stored one.
//
// Prices are compared by value when both sides parse ("$50.00" equals "$50")
// and by exact string otherwise. A listing without a usable price never
// replaces a stored price.
func Decide(tracked *models.TrackedProduct, matched models.CandidateListing) models.Outcome {
	if !matched.PriceAvailable || matched.Price == models.PriceUnavailable {
		return models.Unchanged(tracked)
	}
	if pricing.SameValue(tracked.Price, matched.Price) {
		return models.Unchanged(tracked)
	}
	return models.PriceUpdated(tracked, tracked.Price, matched.Price)
}
