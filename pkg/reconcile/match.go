package reconcile

import "github.com/Ramsey-B/pricewise/pkg/models"

// Match returns the first candidate whose ProductID equals the tracked
// product's. There is no textual fallback; a miss means "not found this pass".
func Match(tracked *models.TrackedProduct, candidates []models.CandidateListing) (models.CandidateListing, bool) {
	for _, c := range candidates {
		if c.ProductID == tracked.ProductID {
			return c, true
		}
	}
	return models.CandidateListing{}, false
}
