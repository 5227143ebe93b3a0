package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"rentmarket/api/internal/apperr"
	"rentmarket/api/internal/config"
	"rentmarket/api/internal/db"
	"rentmarket/api/internal/models"
	"rentmarket/api/internal/utils"
)

// IListingService defines the interface for listing-related operations.
type IListingService interface {
	CreateListing(ctx context.Context, ownerID utils.SixID, input ListingInput) (*models.Listing, error)
	GetListing(ctx context.Context, listingID utils.SixID) (*models.Listing, error)
	FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error)
	UpdateListing(ctx context.Context, listingID, ownerID utils.SixID, update ListingUpdate) (*models.Listing, error)
	DeleteListing(ctx context.Context, listingID, ownerID utils.SixID) error
	SearchListings(ctx context.Context, filter ListingFilter) ([]models.Listing, error)
	AddImageToListing(ctx context.Context, listingID utils.SixID, imageKey string) error

	// Admin
	AdminListListings(ctx context.Context, includeInactive bool, limit, offset int64) ([]models.Listing, error)
	AdminSetActive(ctx context.Context, listingID utils.SixID, active bool) error
	AdminHardDelete(ctx context.Context, listingID utils.SixID) error

	// Availability, driven by booking status changes and the expiry sweep
	MarkBooked(ctx context.Context, listingID utils.SixID, from, until time.Time, countBooking bool) error
	ReleaseWindow(ctx context.Context, listingID utils.SixID, from, until time.Time) (bool, error)
	ReleaseIfBookedUntil(ctx context.Context, listingID utils.SixID, until time.Time) (bool, error)
	FreeExpired(ctx context.Context, now time.Time) (int64, error)
	ApplyRating(ctx context.Context, listingID utils.SixID, avg float64, count int64) error
}

// ListingInput carries the owner-supplied fields of a new listing.
type ListingInput struct {
	Name        string
	Description string
	Category    models.Category
	Location    models.Location
	Pricing     models.Pricing
	PricePerDay *float64
}

// ListingUpdate holds the fields an owner may edit. Nil fields are left unchanged.
type ListingUpdate struct {
	Name        *string               `json:"name,omitempty"`
	Description *string               `json:"description,omitempty"`
	Category    *models.Category      `json:"category,omitempty"`
	Location    *models.Location      `json:"location,omitempty"`
	Pricing     *models.Pricing       `json:"pricing,omitempty"` // Merged per tier; a tier sent as 0 is removed
	Status      *models.ListingStatus `json:"status,omitempty"`
}

// ListingFilter narrows SearchListings. Zero values do not filter.
type ListingFilter struct {
	Query         string
	Category      models.Category
	City          string
	District      string
	Status        models.ListingStatus
	MaxDailyPrice *float64
	OwnerID       *utils.SixID
	Limit         int64
	Offset        int64
}

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

type listingService struct {
	db     *mongo.Database
	cfg    *config.Config
	users  IUserService
	logger *zap.Logger
}

// NewListingService creates a new ListingService.
func NewListingService(database *mongo.Database, cfg *config.Config, users IUserService, log *zap.Logger) IListingService {
	return &listingService{db: database, cfg: cfg, users: users, logger: log.Named("listings")}
}

func (s *listingService) collection() *mongo.Collection {
	return s.db.Collection(db.ListingsCollection)
}

// CreateListing stores a new available listing owned by a renter.
func (s *listingService) CreateListing(ctx context.Context, ownerID utils.SixID, input ListingInput) (*models.Listing, error) {
	owner, err := s.users.FindByID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if owner.Role != models.RoleRenter {
		return nil, apperr.Forbidden("only renters can create listings")
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperr.InvalidInput("name is required")
	}
	if !input.Category.IsValid() {
		return nil, apperr.InvalidInput("invalid category %q", input.Category)
	}

	now := time.Now().UTC()
	listing := &models.Listing{
		Name:          name,
		Description:   strings.TrimSpace(input.Description),
		Category:      input.Category,
		Location:      input.Location,
		OwnerID:       owner.ID,
		OwnerUsername: owner.Username,
		Pricing:       input.Pricing,
		PricePerDay:   input.PricePerDay,
		Images:        []string{},
		Status:        models.ListingAvailable,
		IsActive:      true,
	}
	listing.Touch(now)
	if !listing.HasValidPricing() {
		return nil, apperr.InvalidInput("at least one positive price is required and prices cannot be negative")
	}

	if _, err := db.InsertOne(ctx, s.collection(), listing); err != nil {
		return nil, fmt.Errorf("failed to insert listing: %w", err)
	}

	s.logger.Info("Listing created", zap.String("listing_id", listing.ID.String()), zap.String("owner_id", owner.ID.String()))
	return listing, nil
}

// GetListing returns an active listing and counts the view.
func (s *listingService) GetListing(ctx context.Context, listingID utils.SixID) (*models.Listing, error) {
	var listing models.Listing
	err := s.collection().FindOneAndUpdate(ctx,
		bson.M{"_id": listingID, "is_active": true},
		bson.M{"$inc": bson.M{"views": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&listing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("listing %s not found", listingID)
		}
		return nil, fmt.Errorf("error getting listing %s: %w", listingID, err)
	}
	return &listing, nil
}

// FindListingByID returns the listing whether or not it is active.
func (s *listingService) FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error) {
	var listing models.Listing
	err := s.collection().FindOne(ctx, bson.M{"_id": listingID}).Decode(&listing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("listing %s not found", listingID)
		}
		return nil, fmt.Errorf("error finding listing %s: %w", listingID, err)
	}
	return &listing, nil
}

// findOwned loads an active listing and checks that ownerID owns it.
func (s *listingService) findOwned(ctx context.Context, listingID, ownerID utils.SixID) (*models.Listing, error) {
	listing, err := s.FindListingByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !listing.IsActive {
		return nil, apperr.NotFound("listing %s not found", listingID)
	}
	if listing.OwnerID != ownerID {
		return nil, apperr.Forbidden("not the owner of listing %s", listingID)
	}
	return listing, nil
}

// UpdateListing applies owner edits. The booked window is managed by bookings
// only, so the status can move between available and unavailable but never to
// or from booked.
func (s *listingService) UpdateListing(ctx context.Context, listingID, ownerID utils.SixID, update ListingUpdate) (*models.Listing, error) {
	listing, err := s.findOwned(ctx, listingID, ownerID)
	if err != nil {
		return nil, err
	}

	set := bson.M{}
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, apperr.InvalidInput("name cannot be empty")
		}
		listing.Name = name
		set["name"] = name
	}
	if update.Description != nil {
		listing.Description = strings.TrimSpace(*update.Description)
		set["description"] = listing.Description
	}
	if update.Category != nil {
		if !update.Category.IsValid() {
			return nil, apperr.InvalidInput("invalid category %q", *update.Category)
		}
		listing.Category = *update.Category
		set["category"] = listing.Category
	}
	if update.Location != nil {
		listing.Location = *update.Location
		set["location"] = listing.Location
	}
	if update.Pricing != nil {
		listing.Pricing = mergePricing(listing.Pricing, *update.Pricing)
		set["pricing"] = listing.Pricing
	}
	if update.Status != nil {
		target := *update.Status
		if target != models.ListingAvailable && target != models.ListingUnavailable {
			return nil, apperr.InvalidInput("status can only be set to available or unavailable")
		}
		if listing.Status == models.ListingBooked {
			return nil, apperr.InvalidOperation("listing is booked; its status follows the booking")
		}
		listing.Status = target
		set["status"] = target
	}
	if len(set) == 0 {
		return listing, nil
	}
	if !listing.HasValidPricing() {
		return nil, apperr.InvalidInput("at least one positive price is required and prices cannot be negative")
	}

	listing.UpdatedAt = time.Now().UTC()
	set["updated_at"] = listing.UpdatedAt

	filter := bson.M{"_id": listingID, "owner_id": ownerID, "is_active": true}
	if update.Status != nil {
		// Do not overwrite a booking that landed between the read and this write.
		filter["status"] = bson.M{"$ne": models.ListingBooked}
	}
	res, err := s.collection().UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return nil, fmt.Errorf("failed to update listing %s: %w", listingID, err)
	}
	if res.MatchedCount == 0 {
		return nil, apperr.Conflict("listing %s changed during update", listingID)
	}
	return listing, nil
}

// DeleteListing soft-deletes a listing.
func (s *listingService) DeleteListing(ctx context.Context, listingID, ownerID utils.SixID) error {
	if _, err := s.findOwned(ctx, listingID, ownerID); err != nil {
		return err
	}
	return s.setActive(ctx, listingID, false)
}

func (s *listingService) setActive(ctx context.Context, listingID utils.SixID, active bool) error {
	res, err := s.collection().UpdateOne(ctx,
		bson.M{"_id": listingID},
		bson.M{"$set": bson.M{"is_active": active, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to set is_active on listing %s: %w", listingID, err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("listing %s not found", listingID)
	}
	return nil
}

// SearchListings returns active listings matching filter, newest first.
func (s *listingService) SearchListings(ctx context.Context, filter ListingFilter) ([]models.Listing, error) {
	conditions := bson.A{bson.M{"is_active": true}}

	if q := strings.TrimSpace(filter.Query); q != "" {
		pattern := containsPattern(q)
		conditions = append(conditions, bson.M{"$or": bson.A{
			bson.M{"name": pattern},
			bson.M{"description": pattern},
		}})
	}
	if filter.Category != "" {
		conditions = append(conditions, bson.M{"category": filter.Category})
	}
	if filter.City != "" {
		conditions = append(conditions, bson.M{"location.city": exactPattern(filter.City)})
	}
	if filter.District != "" {
		conditions = append(conditions, bson.M{"location.district": exactPattern(filter.District)})
	}
	switch filter.Status {
	case "":
	case models.ListingAvailable:
		// Missing status counts as available.
		conditions = append(conditions, bson.M{"status": bson.M{"$in": bson.A{models.ListingAvailable, nil}}})
	default:
		conditions = append(conditions, bson.M{"status": filter.Status})
	}
	if filter.MaxDailyPrice != nil {
		conditions = append(conditions, bson.M{"$or": bson.A{
			bson.M{"pricing.daily": bson.M{"$lte": *filter.MaxDailyPrice}},
			bson.M{"pricing.daily": nil, "price_per_day": bson.M{"$lte": *filter.MaxDailyPrice}},
		}})
	}
	if filter.OwnerID != nil {
		conditions = append(conditions, bson.M{"owner_id": *filter.OwnerID})
	}

	return s.find(ctx, bson.M{"$and": conditions}, filter.Limit, filter.Offset)
}

func (s *listingService) find(ctx context.Context, filter bson.M, limit, offset int64) ([]models.Listing, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	if offset < 0 {
		offset = 0
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(limit).
		SetSkip(offset)

	cursor, err := s.collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search listings: %w", err)
	}
	defer cursor.Close(ctx)

	listings := []models.Listing{}
	if err := cursor.All(ctx, &listings); err != nil {
		return nil, fmt.Errorf("failed to decode listings: %w", err)
	}
	return listings, nil
}

func (s *listingService) AddImageToListing(ctx context.Context, listingID utils.SixID, imageKey string) error {
	res, err := s.collection().UpdateOne(ctx,
		bson.M{"_id": listingID},
		bson.M{
			"$push": bson.M{"images": imageKey},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to add image to listing %s: %w", listingID, err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("listing %s not found", listingID)
	}
	return nil
}

func (s *listingService) AdminListListings(ctx context.Context, includeInactive bool, limit, offset int64) ([]models.Listing, error) {
	filter := bson.M{}
	if !includeInactive {
		filter["is_active"] = true
	}
	return s.find(ctx, filter, limit, offset)
}

func (s *listingService) AdminSetActive(ctx context.Context, listingID utils.SixID, active bool) error {
	if err := s.setActive(ctx, listingID, active); err != nil {
		return err
	}
	s.logger.Info("Listing active flag set by admin", zap.String("listing_id", listingID.String()), zap.Bool("active", active))
	return nil
}

// AdminHardDelete removes the listing document. Its bookings and reviews are kept.
func (s *listingService) AdminHardDelete(ctx context.Context, listingID utils.SixID) error {
	res, err := s.collection().DeleteOne(ctx, bson.M{"_id": listingID})
	if err != nil {
		return fmt.Errorf("failed to delete listing %s: %w", listingID, err)
	}
	if res.DeletedCount == 0 {
		return apperr.NotFound("listing %s not found", listingID)
	}
	s.logger.Warn("Listing hard-deleted by admin", zap.String("listing_id", listingID.String()))
	return nil
}

// MarkBooked claims the listing for [from, until]. countBooking increments bookings_count.
func (s *listingService) MarkBooked(ctx context.Context, listingID utils.SixID, from, until time.Time, countBooking bool) error {
	update := bson.M{"$set": bson.M{
		"status":       models.ListingBooked,
		"booked_from":  from,
		"booked_until": until,
		"updated_at":   time.Now().UTC(),
	}}
	if countBooking {
		update["$inc"] = bson.M{"bookings_count": 1}
	}

	res, err := s.collection().UpdateOne(ctx, bson.M{"_id": listingID}, update)
	if err != nil {
		return fmt.Errorf("failed to mark listing %s booked: %w", listingID, err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("listing %s not found", listingID)
	}
	return nil
}

func releaseUpdate() bson.M {
	return bson.M{
		"$set":   bson.M{"status": models.ListingAvailable, "updated_at": time.Now().UTC()},
		"$unset": bson.M{"booked_from": "", "booked_until": ""},
	}
}

// ReleaseWindow frees the listing only if its booked window is exactly [from, until].
func (s *listingService) ReleaseWindow(ctx context.Context, listingID utils.SixID, from, until time.Time) (bool, error) {
	res, err := s.collection().UpdateOne(ctx, bson.M{
		"_id":          listingID,
		"status":       models.ListingBooked,
		"booked_from":  from,
		"booked_until": until,
	}, releaseUpdate())
	if err != nil {
		return false, fmt.Errorf("failed to release listing %s: %w", listingID, err)
	}
	return res.ModifiedCount > 0, nil
}

// ReleaseIfBookedUntil frees the listing only if its booked window ends at until.
func (s *listingService) ReleaseIfBookedUntil(ctx context.Context, listingID utils.SixID, until time.Time) (bool, error) {
	res, err := s.collection().UpdateOne(ctx, bson.M{
		"_id":          listingID,
		"status":       models.ListingBooked,
		"booked_until": until,
	}, releaseUpdate())
	if err != nil {
		return false, fmt.Errorf("failed to release listing %s: %w", listingID, err)
	}
	return res.ModifiedCount > 0, nil
}

// FreeExpired returns every listing whose booked window ended before now to available.
func (s *listingService) FreeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.collection().UpdateMany(ctx, bson.M{
		"status":       models.ListingBooked,
		"booked_until": bson.M{"$lt": now},
	}, releaseUpdate())
	if err != nil {
		return 0, fmt.Errorf("failed to free expired listings: %w", err)
	}
	return res.ModifiedCount, nil
}

func (s *listingService) ApplyRating(ctx context.Context, listingID utils.SixID, avg float64, count int64) error {
	res, err := s.collection().UpdateOne(ctx,
		bson.M{"_id": listingID},
		bson.M{"$set": bson.M{"avg_rating": avg, "review_count": count, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to apply rating to listing %s: %w", listingID, err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("listing %s not found", listingID)
	}
	return nil
}

// containsPattern builds a case-insensitive substring match for user input.
func containsPattern(s string) bson.M {
	return bson.M{"$regex": regexp.QuoteMeta(s), "$options": "i"}
}

// exactPattern builds a case-insensitive whole-string match.
func exactPattern(s string) bson.M {
	return bson.M{"$regex": "^" + regexp.QuoteMeta(strings.TrimSpace(s)) + "$", "$options": "i"}
}

// mergePricing overlays the tiers present in update onto current.
func mergePricing(current, update models.Pricing) models.Pricing {
	merge := func(cur, upd *float64) *float64 {
		switch {
		case upd == nil:
			return cur
		case *upd == 0:
			return nil
		default:
			v := *upd
			return &v
		}
	}
	return models.Pricing{
		Hourly:  merge(current.Hourly, update.Hourly),
		Daily:   merge(current.Daily, update.Daily),
		Monthly: merge(current.Monthly, update.Monthly),
	}
}
