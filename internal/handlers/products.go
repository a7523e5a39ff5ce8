package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/pricewise/pkg/models"
	"github.com/Ramsey-B/pricewise/pkg/search"
)

// ProductHandler serves live provider searches
type ProductHandler struct {
	searcher search.Searcher
	logger   ectologger.Logger
}

// NewProductHandler creates a new product handler
func NewProductHandler(searcher search.Searcher, logger ectologger.Logger) *ProductHandler {
	return &ProductHandler{
		searcher: searcher,
		logger:   logger,
	}
}

// SearchResponse is the body of a product search
type SearchResponse struct {
	Results []models.CandidateListing `json:"results"`
}

// Search queries the provider
// GET /api/v1/products/search?q=
func (h *ProductHandler) Search(c echo.Context) error {
	ctx := c.Request().Context()

	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		return BadRequest("q is required")
	}

	results, err := h.searcher.Search(ctx, query)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).WithField("query", query).Warn("Product search failed")
		return searchError(err)
	}
	if results == nil {
		results = []models.CandidateListing{}
	}

	return SuccessResponse(c, SearchResponse{Results: results})
}

// searchError maps gateway failures onto HTTP statuses.
func searchError(err error) error {
	var gwErr *search.GatewayError
	if !errors.As(err, &gwErr) {
		return err
	}

	switch gwErr.Kind {
	case search.KindConfiguration:
		return httperror.NewHTTPError(http.StatusServiceUnavailable, "product search is not configured")
	case search.KindTransient:
		return httperror.NewHTTPError(http.StatusServiceUnavailable, "product search is temporarily unavailable")
	default:
		return httperror.NewHTTPError(http.StatusBadGateway, "product search failed")
	}
}

// RegisterRoutes registers the product routes
func (h *ProductHandler) RegisterRoutes(g *echo.Group) {
	products := g.Group("/products")
	products.GET("/search", h.Search)
}
