package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rentmarket/api/internal/apperr"
	"rentmarket/api/internal/services"
	"rentmarket/api/internal/utils"
)

type ReviewHandler struct {
	reviewService services.IReviewService
	logger        *zap.Logger
}

func NewReviewHandler(reviewService services.IReviewService, log *zap.Logger) *ReviewHandler {
	return &ReviewHandler{reviewService: reviewService, logger: log.Named("reviews_api")}
}

// Rating bounds are checked by the service so that the error kind is consistent.
type createReviewRequest struct {
	BookingID string `json:"booking_id" validate:"required"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment" validate:"max=2000"`
}

// Create handles POST /reviews/create.
func (h *ReviewHandler) Create(c *gin.Context) {
	p, ok := principal(c, h.logger)
	if !ok {
		return
	}
	var req createReviewRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	bookingID, err := utils.ParseSixID(req.BookingID)
	if err != nil {
		writeError(c, h.logger, apperr.InvalidInput("Invalid booking_id format"))
		return
	}

	review, err := h.reviewService.CreateReview(c.Request.Context(), bookingID, p.UserID, req.Rating, req.Comment)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, review)
}

// ListForListing handles GET /reviews/listing/:id.
func (h *ReviewHandler) ListForListing(c *gin.Context) {
	id, ok := pathID(c, h.logger, "id")
	if !ok {
		return
	}
	reviews, err := h.reviewService.ListReviewsForListing(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": reviews})
}
