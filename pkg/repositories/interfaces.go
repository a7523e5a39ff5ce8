package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/pricewise/pkg/models"
)

// TrackedProductRepo defines the store operations for tracked products
type TrackedProductRepo interface {
	// ListTracked returns up to limit products with id > after, ordered by id.
	ListTracked(ctx context.Context, after uuid.UUID, limit int) ([]models.TrackedProduct, error)
	// CountTracked counts products with id > after.
	CountTracked(ctx context.Context, after uuid.UUID) (int, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.TrackedProduct, error)
	FindByProviderID(ctx context.Context, productID string) (*models.TrackedProduct, error)
	// InsertTracked stores a new product. If product_id is already tracked it
	// returns the existing id together with ErrAlreadyTracked.
	InsertTracked(ctx context.Context, product *models.TrackedProduct) (uuid.UUID, error)
	// AppendHistory sets the current price and appends one history entry in a
	// single atomic write. Writes older than the stored last_updated are
	// rejected with ErrStaleWrite.
	AppendHistory(ctx context.Context, id uuid.UUID, price string, ts time.Time) error
}
