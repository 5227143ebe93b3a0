package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rentmarket/api/internal/api/middleware"
	"rentmarket/api/internal/apperr"
	"rentmarket/api/internal/models"
	"rentmarket/api/internal/services"
	"rentmarket/api/internal/utils"
)

// BookingHandler serves the /bookings routes.
type BookingHandler struct {
	bookingService services.IBookingService
	logger         *zap.Logger
}

func NewBookingHandler(bookingService services.IBookingService, log *zap.Logger) *BookingHandler {
	return &BookingHandler{bookingService: bookingService, logger: log.Named("bookings_api")}
}

type createBookingRequest struct {
	ListingID   string `json:"listing_id" validate:"required"`
	StartDate   string `json:"start_date" validate:"required"`
	EndDate     string `json:"end_date" validate:"required"`
	BookingType string `json:"booking_type" validate:"max=32"` // Unknown values default to daily
}

type setStatusRequest struct {
	Status models.BookingStatus `json:"status" validate:"required,oneof=Pending Confirmed Cancelled Completed"`
}

type payRequest struct {
	PaymentMethod string `json:"payment_method" validate:"required,max=64"`
	PaymentRef    string `json:"payment_ref" validate:"max=128"`
}

// parseDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// Create handles POST /bookings/create.
func (h *BookingHandler) Create(c *gin.Context) {
	p, ok := principal(c, h.logger)
	if !ok {
		return
	}
	var req createBookingRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}

	listingID, err := utils.ParseSixID(req.ListingID)
	if err != nil {
		writeError(c, h.logger, apperr.InvalidInput("Invalid listing_id format"))
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		writeError(c, h.logger, apperr.InvalidInput("Invalid start_date"))
		return
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		writeError(c, h.logger, apperr.InvalidInput("Invalid end_date"))
		return
	}

	booking, err := h.bookingService.CreateBooking(c.Request.Context(), listingID, p.UserID, start, end, req.BookingType)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, booking)
}

// ListForUser handles GET /bookings/user/:username. Callers see only their own bookings unless admin.
func (h *BookingHandler) ListForUser(c *gin.Context) {
	p, ok := principal(c, h.logger)
	if !ok {
		return
	}
	username := c.Param("username")
	if !p.IsAdmin && !strings.EqualFold(p.Username, username) {
		writeError(c, h.logger, apperr.Forbidden("You can only list your own bookings"))
		return
	}

	bookings, err := h.bookingService.ListBookingsForUser(c.Request.Context(), username)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": bookings})
}

// Get handles GET /bookings/:id for either party of the booking.
func (h *BookingHandler) Get(c *gin.Context) {
	booking, _, ok := h.loadForParty(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, booking)
}

// loadForParty loads the :id booking and checks the caller is its customer,
// its renter or an admin.
func (h *BookingHandler) loadForParty(c *gin.Context) (*models.Booking, middleware.Principal, bool) {
	p, ok := principal(c, h.logger)
	if !ok {
		return nil, p, false
	}
	id, ok := pathID(c, h.logger, "id")
	if !ok {
		return nil, p, false
	}
	booking, err := h.bookingService.GetBooking(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return nil, p, false
	}
	if !p.IsAdmin && p.UserID != booking.CustomerID && p.UserID != booking.RenterID {
		writeError(c, h.logger, apperr.Forbidden("You are not a party to this booking"))
		return nil, p, false
	}
	return booking, p, true
}

// SetStatus handles PUT /bookings/status/:id. The renter drives the lifecycle;
// the customer may only cancel.
func (h *BookingHandler) SetStatus(c *gin.Context) {
	booking, p, ok := h.loadForParty(c)
	if !ok {
		return
	}
	var req setStatusRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}

	isRenter := p.UserID == booking.RenterID
	isCustomer := p.UserID == booking.CustomerID
	if !p.IsAdmin && !isRenter && !(isCustomer && req.Status == models.BookingCancelled) {
		writeError(c, h.logger, apperr.Forbidden("Only the listing owner can set status %s", req.Status))
		return
	}

	updated, err := h.bookingService.SetStatus(c.Request.Context(), booking.ID, req.Status)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// Pay handles PUT /bookings/pay/:id for the booking's customer.
func (h *BookingHandler) Pay(c *gin.Context) {
	booking, p, ok := h.loadForParty(c)
	if !ok {
		return
	}
	if p.UserID != booking.CustomerID {
		writeError(c, h.logger, apperr.Forbidden("Only the customer can pay for a booking"))
		return
	}
	var req payRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}

	updated, err := h.bookingService.MarkPaid(c.Request.Context(), booking.ID, req.PaymentMethod, req.PaymentRef)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// Settle handles PUT /bookings/settle/:id for the booking's renter.
func (h *BookingHandler) Settle(c *gin.Context) {
	booking, p, ok := h.loadForParty(c)
	if !ok {
		return
	}
	if !p.IsAdmin && p.UserID != booking.RenterID {
		writeError(c, h.logger, apperr.Forbidden("Only the listing owner can settle a booking"))
		return
	}

	updated, err := h.bookingService.MarkSettled(c.Request.Context(), booking.ID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// AutoComplete handles POST /bookings/auto-complete (admin).
func (h *BookingHandler) AutoComplete(c *gin.Context) {
	n, err := h.bookingService.AutoCompleteDue(c.Request.Context(), time.Now().UTC())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"completed": n})
}
