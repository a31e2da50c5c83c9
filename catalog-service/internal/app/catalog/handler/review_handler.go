package handler

import (
	"net/http"

	"storefront/catalog-service/internal/app/catalog/entity"

	"github.com/gin-gonic/gin"
)

// === REVIEWS HANDLERS ===

// GetReviews обрабатывает GET /reviews?id=<productId>
func (h *CatalogHandler) GetReviews(c *gin.Context) {
	productID := c.Query("id")
	if productID == "" {
		abort(c, http.StatusBadRequest, "Product ID is required")
		return
	}

	reviews, err := h.catalogService.GetReviews(c.Request.Context(), productID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, entity.ReviewsResponse{Success: true, Reviews: reviews})
}

// PutReview обрабатывает PUT /review: создает отзыв пользователя или заменяет его
func (h *CatalogHandler) PutReview(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		abort(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req entity.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		abort(c, http.StatusBadRequest, formatValidationError(err))
		return
	}

	summary, err := h.catalogService.AddOrUpdateReview(c.Request.Context(), actor, &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, entity.ReviewSummaryResponse{
		Success:      true,
		Ratings:      summary.Ratings,
		NumOfReviews: summary.NumOfReviews,
	})
}

// DeleteReview обрабатывает DELETE /review?productId=: удаляет отзыв текущего пользователя
func (h *CatalogHandler) DeleteReview(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		abort(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	productID := c.Query("productId")
	if productID == "" {
		abort(c, http.StatusBadRequest, "Product ID is required")
		return
	}

	summary, err := h.catalogService.RemoveReview(c.Request.Context(), actor, productID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, entity.ReviewSummaryResponse{
		Success:      true,
		Ratings:      summary.Ratings,
		NumOfReviews: summary.NumOfReviews,
	})
}
