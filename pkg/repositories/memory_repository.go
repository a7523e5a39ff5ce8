package repositories

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/pricewise/pkg/models"
)

// MemoryTrackedProductRepository is an in-process store used for local runs
// and tests. It follows the postgres store's semantics, including the stale
// write guard on AppendHistory.
type MemoryTrackedProductRepository struct {
	mu          sync.RWMutex
	byID        map[uuid.UUID]*models.TrackedProduct
	byProductID map[string]uuid.UUID
}

func NewMemoryTrackedProductRepository() *MemoryTrackedProductRepository {
	return &MemoryTrackedProductRepository{
		byID:        make(map[uuid.UUID]*models.TrackedProduct),
		byProductID: make(map[string]uuid.UUID),
	}
}

func (r *MemoryTrackedProductRepository) ListTracked(ctx context.Context, after uuid.UUID, limit int) ([]models.TrackedProduct, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError("list_tracked", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(r.byID))
	for id := range r.byID {
		if bytes.Compare(id[:], after[:]) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	products := make([]models.TrackedProduct, 0, len(ids))
	for _, id := range ids {
		products = append(products, clone(r.byID[id]))
	}
	return products, nil
}

func (r *MemoryTrackedProductRepository) CountTracked(ctx context.Context, after uuid.UUID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, storeError("count_tracked", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for id := range r.byID {
		if bytes.Compare(id[:], after[:]) > 0 {
			count++
		}
	}
	return count, nil
}

func (r *MemoryTrackedProductRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.TrackedProduct, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := clone(p)
	return &out, nil
}

func (r *MemoryTrackedProductRepository) FindByProviderID(ctx context.Context, productID string) (*models.TrackedProduct, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byProductID[productID]
	if !ok {
		return nil, ErrNotFound
	}
	out := clone(r.byID[id])
	return &out, nil
}

func (r *MemoryTrackedProductRepository) InsertTracked(ctx context.Context, product *models.TrackedProduct) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, storeError("insert_tracked", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byProductID[product.ProductID]; ok {
		return id, ErrAlreadyTracked
	}
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	if len(product.History) == 0 {
		product.History = []models.PricePoint{{Price: product.Price, Timestamp: product.LastUpdated}}
	}

	stored := clone(product)
	r.byID[stored.ID] = &stored
	r.byProductID[stored.ProductID] = stored.ID
	return stored.ID, nil
}

func (r *MemoryTrackedProductRepository) AppendHistory(ctx context.Context, id uuid.UUID, price string, ts time.Time) error {
	if err := ctx.Err(); err != nil {
		return storeError("append_history", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return storeError("append_history", ErrNotFound)
	}
	ts = ts.UTC()
	if ts.Before(p.LastUpdated) {
		return storeError("append_history", ErrStaleWrite)
	}

	p.Price = price
	p.LastUpdated = ts
	p.History = append(p.History, models.PricePoint{Price: price, Timestamp: ts})
	return nil
}

// Len returns the number of stored products.
func (r *MemoryTrackedProductRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func clone(p *models.TrackedProduct) models.TrackedProduct {
	out := *p
	out.History = append([]models.PricePoint(nil), p.History...)
	return out
}
