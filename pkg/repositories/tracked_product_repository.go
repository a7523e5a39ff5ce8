package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/pricewise/pkg/database"
	"github.com/Ramsey-B/pricewise/pkg/metrics"
	"github.com/Ramsey-B/pricewise/pkg/models"
	"github.com/Ramsey-B/pricewise/pkg/tracing"
)

const trackedProductsTable = "tracked_products"

type trackedProductRow struct {
	ID          uuid.UUID                           `db:"id"`
	ProductID   string                              `db:"product_id"`
	Title       string                              `db:"title"`
	Price       string                              `db:"price"`
	Source      string                              `db:"source"`
	Link        string                              `db:"link"`
	Thumbnail   *string                             `db:"thumbnail"`
	Rating      *float64                            `db:"rating"`
	Reviews     *int                                `db:"reviews"`
	History     database.JSONB[[]models.PricePoint] `db:"history"`
	LastUpdated time.Time                           `db:"last_updated"`
	CreatedAt   time.Time                           `db:"created_at"`
}

func (r trackedProductRow) toModel() models.TrackedProduct {
	history := r.History.GetValue()
	if history == nil {
		history = []models.PricePoint{}
	}
	return models.TrackedProduct{
		ID:          r.ID,
		ProductID:   r.ProductID,
		Title:       r.Title,
		Price:       r.Price,
		Source:      r.Source,
		Link:        r.Link,
		Thumbnail:   r.Thumbnail,
		Rating:      r.Rating,
		Reviews:     r.Reviews,
		History:     history,
		LastUpdated: r.LastUpdated.UTC(),
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

var trackedProductStruct = database.NewStruct(new(trackedProductRow))

const insertTrackedSQL = `
INSERT INTO tracked_products
    (id, product_id, title, price, source, link, thumbnail, rating, reviews, history, last_updated, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (product_id) DO NOTHING
RETURNING id`

// The last_updated guard keeps history timestamps in order when a late
// write races a newer one.
const appendHistorySQL = `
UPDATE tracked_products
SET price = $1,
    last_updated = $2,
    history = history || jsonb_build_array(jsonb_build_object('price', $1::text, 'timestamp', $2::timestamptz))
WHERE id = $3 AND last_updated <= $2`

// TrackedProductRepository is the postgres store
type TrackedProductRepository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewTrackedProductRepository creates a new tracked product repository
func NewTrackedProductRepository(db database.DB, logger ectologger.Logger) *TrackedProductRepository {
	return &TrackedProductRepository{db: db, logger: logger}
}

func (r *TrackedProductRepository) ListTracked(ctx context.Context, after uuid.UUID, limit int) ([]models.TrackedProduct, error) {
	ctx, span := tracing.StartSpan(ctx, "TrackedProductRepository.ListTracked")
	defer span.End()
	defer observe("list_tracked", time.Now())

	sb := trackedProductStruct.SelectFrom(trackedProductsTable)
	sb.Where(sb.GreaterThan("id", after))
	sb.OrderBy("id").Asc()
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	var rows []trackedProductRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"after": after,
			"limit": limit,
		}).Error("failed to list tracked products")
		return nil, storeError("list_tracked", err)
	}

	products := make([]models.TrackedProduct, 0, len(rows))
	for _, row := range rows {
		products = append(products, row.toModel())
	}

	r.logger.WithContext(ctx).Debugf("Listed %d %s after %s", len(products), trackedProductsTable, after)
	return products, nil
}

func (r *TrackedProductRepository) CountTracked(ctx context.Context, after uuid.UUID) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "TrackedProductRepository.CountTracked")
	defer span.End()
	defer observe("count_tracked", time.Now())

	sb := database.NewSelectBuilder()
	sb.Select("count(*)").From(trackedProductsTable)
	sb.Where(sb.GreaterThan("id", after))

	query, args := sb.Build()
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("after", after).Error("failed to count tracked products")
		return 0, storeError("count_tracked", err)
	}
	return count, nil
}

func (r *TrackedProductRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.TrackedProduct, error) {
	ctx, span := tracing.StartSpan(ctx, "TrackedProductRepository.GetByID")
	defer span.End()
	defer observe("get_by_id", time.Now())

	sb := trackedProductStruct.SelectFrom(trackedProductsTable)
	sb.Where(sb.Equal("id", id))
	return r.getOne(ctx, "get_by_id", sb)
}

func (r *TrackedProductRepository) FindByProviderID(ctx context.Context, productID string) (*models.TrackedProduct, error) {
	ctx, span := tracing.StartSpan(ctx, "TrackedProductRepository.FindByProviderID")
	defer span.End()
	defer observe("find_by_provider_id", time.Now())

	sb := trackedProductStruct.SelectFrom(trackedProductsTable)
	sb.Where(sb.Equal("product_id", productID))
	return r.getOne(ctx, "find_by_provider_id", sb)
}

func (r *TrackedProductRepository) getOne(ctx context.Context, op string, sb *database.SelectBuilder) (*models.TrackedProduct, error) {
	query, args := sb.Build()

	var row trackedProductRow
	err := r.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Errorf("failed to %s", op)
		return nil, storeError(op, err)
	}

	product := row.toModel()
	return &product, nil
}

func (r *TrackedProductRepository) InsertTracked(ctx context.Context, product *models.TrackedProduct) (uuid.UUID, error) {
	ctx, span := tracing.StartSpan(ctx, "TrackedProductRepository.InsertTracked")
	defer span.End()
	defer observe("insert_tracked", time.Now())

	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	if len(product.History) == 0 {
		product.History = []models.PricePoint{{Price: product.Price, Timestamp: product.LastUpdated}}
	}

	var id uuid.UUID
	err := r.db.QueryRowxContext(ctx, insertTrackedSQL,
		product.ID, product.ProductID, product.Title, product.Price, product.Source, product.Link,
		product.Thumbnail, product.Rating, product.Reviews,
		database.JSONB[[]models.PricePoint]{Data: product.History},
		product.LastUpdated, product.CreatedAt,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		existing, findErr := r.FindByProviderID(ctx, product.ProductID)
		if findErr != nil {
			return uuid.Nil, findErr
		}
		return existing.ID, ErrAlreadyTracked
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"product_id": product.ProductID,
		}).Error("failed to insert tracked product")
		return uuid.Nil, storeError("insert_tracked", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":         id,
		"product_id": product.ProductID,
	}).Debugf("Created %s", trackedProductsTable)
	return id, nil
}

func (r *TrackedProductRepository) AppendHistory(ctx context.Context, id uuid.UUID, price string, ts time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "TrackedProductRepository.AppendHistory")
	defer span.End()
	defer observe("append_history", time.Now())

	result, err := r.db.ExecContext(ctx, appendHistorySQL, price, ts.UTC(), id)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("id", id).Error("failed to append price history")
		return storeError("append_history", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return storeError("append_history", err)
	}
	if affected == 1 {
		return nil
	}

	// Nothing matched: either the row is gone or a newer write landed first.
	if _, err := r.GetByID(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return storeError("append_history", ErrNotFound)
		}
		return err
	}
	return storeError("append_history", ErrStaleWrite)
}

func observe(op string, start time.Time) {
	metrics.RecordDatabaseQuery(op, time.Since(start).Seconds())
}
