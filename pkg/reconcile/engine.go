// Package reconcile runs the per-product pipeline: search, match, decide and
// append history.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	appctx "github.com/Ramsey-B/pricewise/pkg/context"
	"github.com/Ramsey-B/pricewise/pkg/metrics"
	"github.com/Ramsey-B/pricewise/pkg/models"
	"github.com/Ramsey-B/pricewise/pkg/search"
	"github.com/Ramsey-B/pricewise/pkg/tracing"
)

// HistoryStore is the one store operation reconciliation needs.
type HistoryStore interface {
	AppendHistory(ctx context.Context, id uuid.UUID, price string, ts time.Time) error
}

// Notifier is told about committed price changes. Failures are logged and
// never change the outcome.
type Notifier interface {
	PublishPriceChange(ctx context.Context, product *models.TrackedProduct, outcome models.Outcome) error
}

// Reconciler produces one Outcome per tracked product.
type Reconciler struct {
	searcher search.Searcher
	store    HistoryStore
	notifier Notifier
	now      func() time.Time
	logger   ectologger.Logger
}

type Option func(*Reconciler)

// WithNotifier publishes committed price changes.
func WithNotifier(n Notifier) Option {
	return func(r *Reconciler) { r.notifier = n }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func NewReconciler(searcher search.Searcher, store HistoryStore, logger ectologger.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		searcher: searcher,
		store:    store,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile never returns an error: every failure is folded into the
// returned Outcome so callers can aggregate without control flow.
func (r *Reconciler) Reconcile(ctx context.Context, product models.TrackedProduct) models.Outcome {
	ctx = appctx.SetProductID(ctx, product.ProductID)
	ctx, span := tracing.StartSpan(ctx, "Reconciler.Reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("product.id", product.ProductID))

	start := time.Now()
	outcome := r.reconcile(ctx, &product)
	if outcome.At.IsZero() {
		outcome.At = r.now()
	}

	span.SetAttributes(attribute.String("reconcile.outcome", string(outcome.Kind)))
	metrics.RecordOutcome(string(outcome.Kind), time.Since(start).Seconds())
	r.logOutcome(ctx, &product, outcome)
	return outcome
}

func (r *Reconciler) reconcile(ctx context.Context, product *models.TrackedProduct) models.Outcome {
	candidates, err := r.searcher.Search(ctx, product.Title)
	if err != nil {
		return models.SearchFailed(product, err)
	}

	matched, ok := Match(product, candidates)
	if !ok {
		return models.NoMatch(product)
	}

	outcome := Decide(product, matched)
	if outcome.Kind != models.OutcomePriceUpdated {
		return outcome
	}

	ts := r.now()
	if last, ok := product.LastPoint(); ok && ts.Before(last.Timestamp) {
		ts = last.Timestamp
	}
	if err := r.store.AppendHistory(ctx, product.ID, matched.Price, ts); err != nil {
		return models.StoreFailed(product, outcome.OldPrice, outcome.NewPrice, err)
	}
	outcome.At = ts

	if r.notifier != nil {
		if err := r.notifier.PublishPriceChange(ctx, product, outcome); err != nil {
			r.logger.WithContext(ctx).WithError(err).Warnf("Failed to publish price change for %s", product.ProductID)
		}
	}
	return outcome
}

func (r *Reconciler) logOutcome(ctx context.Context, product *models.TrackedProduct, outcome models.Outcome) {
	fields := map[string]any{
		"pass_id":    appctx.GetPassID(ctx),
		"tracked_id": product.ID,
		"product_id": appctx.GetProductID(ctx),
		"outcome":    outcome.Kind,
	}
	log := r.logger.WithContext(ctx).WithFields(fields)

	switch outcome.Kind {
	case models.OutcomePriceUpdated:
		log.Infof("Price change detected for %q: %s -> %s", product.Title, outcome.OldPrice, outcome.NewPrice)
	case models.OutcomeUnchanged:
		log.Debugf("Price unchanged for %q", product.Title)
	case models.OutcomeNoMatch:
		log.Infof("No matching listing for %q this pass", product.Title)
	case models.OutcomeSearchFailed:
		log = log.WithError(outcome.Err)
		if kind := search.KindOf(outcome.Err); kind != "" {
			log = log.WithField("error_kind", kind)
		}
		log.Warnf("Search failed for %q", product.Title)
	case models.OutcomeStoreFailed:
		if errors.Is(outcome.Err, context.Canceled) || errors.Is(outcome.Err, context.DeadlineExceeded) {
			log.WithError(outcome.Err).Warnf("History write abandoned for %q", product.Title)
			return
		}
		log.WithError(outcome.Err).Errorf("Failed to record price change for %q", product.Title)
	}
}
