package models

import (
	"time"

	"github.com/google/uuid"
)

// OutcomeKind tags the result of reconciling one product.
type OutcomeKind string

const (
	OutcomeUnchanged    OutcomeKind = "unchanged"
	OutcomePriceUpdated OutcomeKind = "price_updated"
	OutcomeNoMatch      OutcomeKind = "no_match_found"
	OutcomeSearchFailed OutcomeKind = "search_failed"
	OutcomeStoreFailed  OutcomeKind = "store_failed"
)

// Outcome is the result of one product's reconciliation. Only the fields
// relevant to Kind are set.
type Outcome struct {
	Kind      OutcomeKind `json:"kind"`
	TrackedID uuid.UUID   `json:"tracked_id"`
	ProductID string      `json:"product_id"`
	OldPrice  string      `json:"old_price,omitempty"`
	NewPrice  string      `json:"new_price,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	At        time.Time   `json:"at"`
	Err       error       `json:"-"`
}

// Failed reports whether the outcome counts as a per-item failure.
func (o Outcome) Failed() bool {
	return o.Kind == OutcomeSearchFailed || o.Kind == OutcomeStoreFailed
}

func Unchanged(p *TrackedProduct) Outcome {
	return Outcome{Kind: OutcomeUnchanged, TrackedID: p.ID, ProductID: p.ProductID}
}

func PriceUpdated(p *TrackedProduct, oldPrice, newPrice string) Outcome {
	return Outcome{Kind: OutcomePriceUpdated, TrackedID: p.ID, ProductID: p.ProductID, OldPrice: oldPrice, NewPrice: newPrice}
}

func NoMatch(p *TrackedProduct) Outcome {
	return Outcome{Kind: OutcomeNoMatch, TrackedID: p.ID, ProductID: p.ProductID}
}

func SearchFailed(p *TrackedProduct, err error) Outcome {
	return Outcome{Kind: OutcomeSearchFailed, TrackedID: p.ID, ProductID: p.ProductID, Reason: err.Error(), Err: err}
}

func StoreFailed(p *TrackedProduct, oldPrice, newPrice string, err error) Outcome {
	return Outcome{Kind: OutcomeStoreFailed, TrackedID: p.ID, ProductID: p.ProductID, OldPrice: oldPrice, NewPrice: newPrice, Reason: err.Error(), Err: err}
}

// PassSummary aggregates the outcomes of one reconciliation pass.
type PassSummary struct {
	PassID       string    `json:"pass_id"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Total        int       `json:"total"`
	Updated      int       `json:"updated"`
	Unchanged    int       `json:"unchanged"`
	NoMatch      int       `json:"no_match"`
	SearchFailed int       `json:"search_failed"`
	StoreFailed  int       `json:"store_failed"`
	// Skipped counts products never attempted because the pass was cancelled,
	// including those on pages it never reached.
	Skipped int `json:"skipped"`
}

// Add folds one outcome into the summary.
func (s *PassSummary) Add(o Outcome) {
	s.Total++
	switch o.Kind {
	case OutcomePriceUpdated:
		s.Updated++
	case OutcomeUnchanged:
		s.Unchanged++
	case OutcomeNoMatch:
		s.NoMatch++
	case OutcomeSearchFailed:
		s.SearchFailed++
	case OutcomeStoreFailed:
		s.StoreFailed++
	}
}

// Failed is the number of per-item failures.
func (s PassSummary) Failed() int {
	return s.SearchFailed + s.StoreFailed
}

func (s PassSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
