package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rentmarket/api/internal/apperr"
	"rentmarket/api/internal/config"
	"rentmarket/api/internal/models"
	"rentmarket/api/internal/services"
	"rentmarket/api/internal/storage"
	"rentmarket/api/internal/tasks"
)

// ListingHandler serves the /listings routes.
type ListingHandler struct {
	cfg            *config.Config
	listingService services.IListingService
	userService    services.IUserService
	storageService storage.IS3Storage // nil when image uploads are disabled
	taskClient     tasks.Enqueuer
	logger         *zap.Logger
}

func NewListingHandler(
	cfg *config.Config,
	listingService services.IListingService,
	userService services.IUserService,
	storageService storage.IS3Storage,
	taskClient tasks.Enqueuer,
	log *zap.Logger,
) *ListingHandler {
	return &ListingHandler{
		cfg:            cfg,
		listingService: listingService,
		userService:    userService,
		storageService: storageService,
		taskClient:     taskClient,
		logger:         log.Named("listings_api"),
	}
}

// listingResponse adds public image URLs to a listing.
type listingResponse struct {
	*models.Listing
	ImageURLs []string `json:"image_urls"`
}

func (h *ListingHandler) present(l *models.Listing) listingResponse {
	urls := make([]string, 0, len(l.Images))
	for _, key := range l.Images {
		urls = append(urls, storage.ObjectURL(h.cfg.ImageBaseS3URL, key))
	}
	return listingResponse{Listing: l, ImageURLs: urls}
}

func (h *ListingHandler) presentAll(ls []models.Listing) []listingResponse {
	out := make([]listingResponse, 0, len(ls))
	for i := range ls {
		out = append(out, h.present(&ls[i]))
	}
	return out
}

type createListingForm struct {
	Name        string   `form:"name" json:"name" validate:"required,max=200"`
	Description string   `form:"description" json:"description" validate:"max=5000"`
	Category    string   `form:"category" json:"category" validate:"required"`
	City        string   `form:"city" json:"city" validate:"required,max=100"`
	District    string   `form:"district" json:"district" validate:"max=100"`
	Hourly      *float64 `form:"pricing_hourly" json:"pricing_hourly"`
	Daily       *float64 `form:"pricing_daily" json:"pricing_daily"`
	Monthly     *float64 `form:"pricing_monthly" json:"pricing_monthly"`
	PricePerDay *float64 `form:"price_per_day" json:"price_per_day"`
}

// Create handles POST /listings. The body is multipart/form-data with an optional image file.
func (h *ListingHandler) Create(c *gin.Context) {
	p, ok := principal(c, h.logger)
	if !ok {
		return
	}
	var form createListingForm
	if err := c.ShouldBind(&form); err != nil {
		writeError(c, h.logger, apperr.InvalidInput("Invalid listing form: %v", err))
		return
	}
	if !validateStruct(c, h.logger, &form) {
		return
	}

	image, err := c.FormFile("image")
	if err != nil && !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart) {
		writeError(c, h.logger, apperr.InvalidInput("Invalid image upload: %v", err))
		return
	}
	maxBytes := int64(h.cfg.ImageMaxSizeMB) * 1024 * 1024
	if image != nil && maxBytes > 0 && image.Size > maxBytes {
		writeError(c, h.logger, apperr.InvalidInput("Image exceeds %d MB", h.cfg.ImageMaxSizeMB))
		return
	}

	listing, err := h.listingService.CreateListing(c.Request.Context(), p.UserID, services.ListingInput{
		Name:        form.Name,
		Description: form.Description,
		Category:    models.Category(form.Category),
		Location:    models.Location{City: form.City, District: form.District},
		Pricing:     models.Pricing{Hourly: form.Hourly, Daily: form.Daily, Monthly: form.Monthly},
		PricePerDay: form.PricePerDay,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	imagePending := false
	if image != nil {
		imagePending = h.uploadImage(c, listing, image)
	}

	c.JSON(http.StatusCreated, gin.H{"listing": h.present(listing), "image_pending": imagePending})
}

// uploadImage stores the raw upload and queues its processing. Failures are
// logged and leave the listing without the image.
func (h *ListingHandler) uploadImage(c *gin.Context, listing *models.Listing, fh *multipart.FileHeader) bool {
	if h.storageService == nil || h.taskClient == nil {
		h.logger.Debug("Image storage disabled, ignoring upload", zap.String("listing_id", listing.ID.String()))
		return false
	}
	log := h.logger.With(zap.String("listing_id", listing.ID.String()))

	f, err := fh.Open()
	if err != nil {
		log.Warn("Failed to open uploaded image", zap.Error(err))
		return false
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		log.Warn("Failed to read uploaded image", zap.Error(err))
		return false
	}

	ctx := c.Request.Context()
	key := storage.UploadKey(listing.ID.String(), fh.Filename)
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if err := h.storageService.PutObject(ctx, key, data, contentType); err != nil {
		log.Warn("Failed to store uploaded image", zap.Error(err))
		return false
	}
	if err := tasks.EnqueueImageProcess(ctx, h.taskClient, listing.ID, key); err != nil {
		log.Warn("Failed to queue image processing", zap.String("s3_key", key), zap.Error(err))
		return false
	}
	return true
}

func (h *ListingHandler) filterFromQuery(c *gin.Context) (services.ListingFilter, error) {
	filter := services.ListingFilter{
		Query:    c.Query("q"),
		Category: models.Category(c.Query("category")),
		City:     c.Query("city"),
		District: c.Query("district"),
		Status:   models.ListingStatus(c.Query("status")),
		Limit:    queryInt64(c, "limit", 0),
		Offset:   queryInt64(c, "offset", 0),
	}
	if raw := c.Query("max_daily_price"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			return filter, apperr.InvalidInput("Invalid max_daily_price")
		}
		filter.MaxDailyPrice = &v
	}
	return filter, nil
}

// Search handles GET /listings.
func (h *ListingHandler) Search(c *gin.Context) {
	filter, err := h.filterFromQuery(c)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	listings, err := h.listingService.SearchListings(c.Request.Context(), filter)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": h.presentAll(listings)})
}

// ListByOwner handles GET /listings/owner/:username.
func (h *ListingHandler) ListByOwner(c *gin.Context) {
	owner, err := h.userService.FindByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	filter, err := h.filterFromQuery(c)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	filter.OwnerID = &owner.ID

	listings, err := h.listingService.SearchListings(c.Request.Context(), filter)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": h.presentAll(listings)})
}

// Get handles GET /listings/:id.
func (h *ListingHandler) Get(c *gin.Context) {
	id, ok := pathID(c, h.logger, "id")
	if !ok {
		return
	}
	listing, err := h.listingService.GetListing(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, h.present(listing))
}

// Update handles PUT /listings/:id for the owner.
func (h *ListingHandler) Update(c *gin.Context) {
	p, ok := principal(c, h.logger)
	if !ok {
		return
	}
	id, ok := pathID(c, h.logger, "id")
	if !ok {
		return
	}
	var update services.ListingUpdate
	if !bindJSON(c, h.logger, &update) {
		return
	}

	listing, err := h.listingService.UpdateListing(c.Request.Context(), id, p.UserID, update)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, h.present(listing))
}

// Delete handles DELETE /listings/:id for the owner.
func (h *ListingHandler) Delete(c *gin.Context) {
	p, ok := principal(c, h.logger)
	if !ok {
		return
	}
	id, ok := pathID(c, h.logger, "id")
	if !ok {
		return
	}
	if err := h.listingService.DeleteListing(c.Request.Context(), id, p.UserID); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
