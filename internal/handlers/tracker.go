package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/pricewise/pkg/models"
	"github.com/Ramsey-B/pricewise/pkg/repositories"
	"github.com/Ramsey-B/pricewise/pkg/scheduler"
	"github.com/Ramsey-B/pricewise/pkg/utils"
)

// MaxTrackedPage is the most products returned by one tracked listing.
const MaxTrackedPage = 100

// PassRunner is the part of the scheduler the tracker routes drive
type PassRunner interface {
	Trigger(ctx context.Context) error
	State() scheduler.State
	LastSummary() (models.PassSummary, bool)
}

// TrackerHandler handles tracked product API requests
type TrackerHandler struct {
	repo   repositories.TrackedProductRepo
	passes PassRunner
	now    func() time.Time
	logger ectologger.Logger
}

// NewTrackerHandler creates a new tracker handler
func NewTrackerHandler(repo repositories.TrackedProductRepo, passes PassRunner, logger ectologger.Logger) *TrackerHandler {
	return &TrackerHandler{
		repo:   repo,
		passes: passes,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// TrackRequest is a listing the client wants tracked, usually one result of a search
type TrackRequest struct {
	ProductID string   `json:"product_id" validate:"required,max=512"`
	Title     string   `json:"title" validate:"required,max=1000"`
	Price     string   `json:"price" validate:"max=64"`
	Source    string   `json:"source" validate:"max=256"`
	Link      string   `json:"link" validate:"omitempty,url"`
	Thumbnail *string  `json:"thumbnail" validate:"omitempty,url"`
	Rating    *float64 `json:"rating" validate:"omitempty,gte=0,lte=5"`
	Reviews   *int     `json:"reviews" validate:"omitempty,gte=0"`
}

// TrackResponse is returned by Track
type TrackResponse struct {
	Message string    `json:"message"`
	ID      uuid.UUID `json:"id"`
}

// TrackedResponse lists tracked products
type TrackedResponse struct {
	Products []models.TrackedProduct `json:"products"`
	// NextAfter is the cursor for the next page, absent on the last one
	NextAfter *uuid.UUID `json:"next_after,omitempty"`
}

// HistoryResponse is the price history of one product
type HistoryResponse struct {
	History []models.PricePoint `json:"history"`
}

// ReconcileStatusResponse reports the pass state
type ReconcileStatusResponse struct {
	State    scheduler.State     `json:"state"`
	LastPass *models.PassSummary `json:"last_pass,omitempty"`
}

// Track starts tracking a product
// POST /api/v1/tracker/track
func (h *TrackerHandler) Track(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := utils.BindRequest[TrackRequest](c)
	if err != nil {
		return err
	}

	price := req.Price
	if price == "" {
		price = models.PriceUnavailable
	}
	product := models.NewTrackedProduct(models.CandidateListing{
		ProductID: req.ProductID,
		Title:     req.Title,
		Price:     price,
		Source:    req.Source,
		Link:      req.Link,
		Thumbnail: req.Thumbnail,
		Rating:    req.Rating,
		Reviews:   req.Reviews,
	}, h.now())

	id, err := h.repo.InsertTracked(ctx, product)
	if errors.Is(err, repositories.ErrAlreadyTracked) {
		return SuccessResponse(c, TrackResponse{Message: "Already tracking this product", ID: id})
	}
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).WithField("product_id", req.ProductID).Error("Failed to track product")
		return err
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"id":         id,
		"product_id": req.ProductID,
		"price":      price,
	}).Info("Started tracking product")

	return CreatedResponse(c, TrackResponse{Message: "Started tracking product", ID: id})
}

// Tracked lists tracked products in id order
// GET /api/v1/tracker/tracked
func (h *TrackerHandler) Tracked(c echo.Context) error {
	ctx := c.Request().Context()

	after, err := ParseUUID(c, "after")
	if err != nil {
		return err
	}
	limit, err := ParseLimit(c, "limit", MaxTrackedPage)
	if err != nil {
		return err
	}

	products, err := h.repo.ListTracked(ctx, after, limit)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to list tracked products")
		return err
	}
	if products == nil {
		products = []models.TrackedProduct{}
	}

	resp := TrackedResponse{Products: products}
	if len(products) == limit {
		next := products[len(products)-1].ID
		resp.NextAfter = &next
	}
	return SuccessResponse(c, resp)
}

// History returns a product's price history
// GET /api/v1/tracker/history/:product_id
func (h *TrackerHandler) History(c echo.Context) error {
	ctx := c.Request().Context()
	productID := c.Param("product_id")

	product, err := h.repo.FindByProviderID(ctx, productID)
	if errors.Is(err, repositories.ErrNotFound) {
		return NotFound("Product not found")
	}
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).WithField("product_id", productID).Error("Failed to load price history")
		return err
	}

	return SuccessResponse(c, HistoryResponse{History: product.History})
}

// Reconcile starts a reconciliation pass in the background
// POST /api/v1/tracker/reconcile
func (h *TrackerHandler) Reconcile(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.passes.Trigger(ctx); err != nil {
		if errors.Is(err, scheduler.ErrPassInProgress) {
			return Conflict("reconciliation pass already in progress")
		}
		return err
	}

	return AcceptedResponse(c, map[string]string{
		"status":  "started",
		"message": "Reconciliation pass started",
	})
}

// ReconcileStatus reports whether a pass is running and the last summary
// GET /api/v1/tracker/reconcile/status
func (h *TrackerHandler) ReconcileStatus(c echo.Context) error {
	resp := ReconcileStatusResponse{State: h.passes.State()}
	if last, ok := h.passes.LastSummary(); ok {
		resp.LastPass = &last
	}
	return SuccessResponse(c, resp)
}

// RegisterRoutes registers the tracker routes
func (h *TrackerHandler) RegisterRoutes(g *echo.Group) {
	tracker := g.Group("/tracker")
	tracker.POST("/track", h.Track)
	tracker.GET("/tracked", h.Tracked)
	tracker.GET("/history/:product_id", h.History)
	tracker.POST("/reconcile", h.Reconcile)
	tracker.GET("/reconcile/status", h.ReconcileStatus)
}
