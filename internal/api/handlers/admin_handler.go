package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rentmarket/api/internal/models"
	"rentmarket/api/internal/services"
)

// AdminHandler serves the /admin routes. AdminMiddleware guards all of them.
type AdminHandler struct {
	listingService services.IListingService
	userService    services.IUserService
	logger         *zap.Logger
}

func NewAdminHandler(listingService services.IListingService, userService services.IUserService, log *zap.Logger) *AdminHandler {
	return &AdminHandler{listingService: listingService, userService: userService, logger: log.Named("admin_api")}
}

type setActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type setApprovalRequest struct {
	Status models.ApprovalStatus `json:"status" validate:"required,oneof=pending approved rejected"`
}

// ListListings handles GET /admin/listings?include_inactive=true.
func (h *AdminHandler) ListListings(c *gin.Context) {
	includeInactive := c.Query("include_inactive") == "true"
	listings, err := h.listingService.AdminListListings(c.Request.Context(), includeInactive,
		queryInt64(c, "limit", 0), queryInt64(c, "offset", 0))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": listings})
}

// SetListingActive handles PUT /admin/listings/:id/active.
func (h *AdminHandler) SetListingActive(c *gin.Context) {
	id, ok := pathID(c, h.logger, "id")
	if !ok {
		return
	}
	var req setActiveRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	if err := h.listingService.AdminSetActive(c.Request.Context(), id, *req.Active); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id.String(), "active": *req.Active})
}

// DeleteListing handles DELETE /admin/listings/:id.
func (h *AdminHandler) DeleteListing(c *gin.Context) {
	id, ok := pathID(c, h.logger, "id")
	if !ok {
		return
	}
	if err := h.listingService.AdminHardDelete(c.Request.Context(), id); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListUsers handles GET /admin/users?status=pending.
func (h *AdminHandler) ListUsers(c *gin.Context) {
	status := models.ApprovalStatus(c.DefaultQuery("status", string(models.ApprovalPending)))
	users, err := h.userService.ListByApprovalStatus(c.Request.Context(), status)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": users})
}

// SetApproval handles PUT /admin/users/:id/approval.
func (h *AdminHandler) SetApproval(c *gin.Context) {
	id, ok := pathID(c, h.logger, "id")
	if !ok {
		return
	}
	var req setApprovalRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	user, err := h.userService.SetApprovalStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
