package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"rentmarket/api/internal/apperr"
	"rentmarket/api/internal/cache"
	"rentmarket/api/internal/config"
	"rentmarket/api/internal/db"
	"rentmarket/api/internal/events"
	"rentmarket/api/internal/metrics"
	"rentmarket/api/internal/models"
	"rentmarket/api/internal/pricing"
	"rentmarket/api/internal/utils"
)

// IBookingService is the booking engine: creation, status transitions and payment state.
type IBookingService interface {
	CreateBooking(ctx context.Context, listingID, customerID utils.SixID, start, end time.Time, bookingType string) (*models.Booking, error)
	GetBooking(ctx context.Context, bookingID utils.SixID) (*models.Booking, error)
	ListBookingsForUser(ctx context.Context, username string) ([]models.Booking, error)
	SetStatus(ctx context.Context, bookingID utils.SixID, status models.BookingStatus) (*models.Booking, error)
	MarkPaid(ctx context.Context, bookingID utils.SixID, method, ref string) (*models.Booking, error)
	MarkSettled(ctx context.Context, bookingID utils.SixID) (*models.Booking, error)
	AutoCompleteDue(ctx context.Context, now time.Time) (int64, error)
}

type bookingService struct {
	db        *mongo.Database
	cfg       *config.Config
	listings  IListingService
	users     IUserService
	locker    cache.ListingLocker
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewBookingService creates a new BookingService.
func NewBookingService(
	database *mongo.Database,
	cfg *config.Config,
	listings IListingService,
	users IUserService,
	locker cache.ListingLocker,
	publisher events.Publisher,
	m *metrics.Metrics,
	log *zap.Logger,
) IBookingService {
	return &bookingService{
		db:        database,
		cfg:       cfg,
		listings:  listings,
		users:     users,
		locker:    locker,
		publisher: publisher,
		metrics:   m,
		logger:    log.Named("bookings"),
	}
}

func (s *bookingService) collection() *mongo.Collection {
	return s.db.Collection(db.BookingsCollection)
}

// CreateBooking places a Pending booking. Checks run in a fixed order and each
// failure has its own error kind. The listing itself is not touched until the
// booking is confirmed.
func (s *bookingService) CreateBooking(ctx context.Context, listingID, customerID utils.SixID, start, end time.Time, bookingType string) (*models.Booking, error) {
	start, end = models.TruncateTime(start), models.TruncateTime(end)

	listing, err := s.listings.FindListingByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !listing.IsActive {
		return nil, apperr.NotFound("listing %s not found", listingID)
	}
	if !listing.IsAvailable() {
		return nil, apperr.Conflict("listing is not available")
	}
	if listing.OwnerID == customerID {
		return nil, apperr.InvalidOperation("cannot book own listing")
	}

	owner, err := s.users.FindByID(ctx, listing.OwnerID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if owner == nil || !owner.CanHostBookings() {
		return nil, apperr.Forbidden("listing owner is not an approved renter")
	}

	if start.After(end) {
		return nil, apperr.InvalidInput("start date must not be after end date")
	}

	customer, err := s.users.FindByID(ctx, customerID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, listingID.String())
	if err != nil {
		if errors.Is(err, cache.ErrLockNotAcquired) {
			return nil, apperr.Conflict("listing is being booked, try again")
		}
		return nil, fmt.Errorf("failed to lock listing %s: %w", listingID, err)
	}
	defer unlock()

	overlapping, err := s.collection().CountDocuments(ctx, bson.M{
		"listing_id": listingID,
		"status":     bson.M{"$in": models.OverlapStatuses},
		"start_date": bson.M{"$lte": end},
		"end_date":   bson.M{"$gte": start},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check overlapping bookings: %w", err)
	}
	if overlapping > 0 {
		return nil, apperr.Conflict("already booked")
	}

	kind := pricing.NormalizeType(bookingType)
	total := pricing.ComputePrice(listing.Pricing, listing.PricePerDay, start, end, kind)
	if total <= 0 {
		s.logger.Warn("Listing has no applicable price", zap.String("listing_id", listingID.String()), zap.String("booking_type", string(kind)))
		return nil, apperr.InvalidOperation("listing has no %s price", kind)
	}

	booking := &models.Booking{
		ListingID:        listingID,
		RenterID:         listing.OwnerID,
		RenterUsername:   owner.Username,
		CustomerID:       customer.ID,
		CustomerUsername: customer.Username,
		StartDate:        start,
		EndDate:          end,
		BookingType:      kind,
		TotalPrice:       total,
		Status:           models.BookingPending,
		PaymentStatus:    models.PaymentUnpaid,
	}
	booking.Touch(time.Now().UTC())

	if _, err := db.InsertOne(ctx, s.collection(), booking); err != nil {
		return nil, fmt.Errorf("failed to insert booking: %w", err)
	}

	s.metrics.BookingsCreated.Inc()
	s.logger.Info("Booking created",
		zap.String("booking_id", booking.ID.String()),
		zap.String("listing_id", listingID.String()),
		zap.Float64("total_price", total),
	)
	s.publish(ctx, events.SubjectBookingCreated, events.BookingCreated{
		BookingID:  booking.ID.String(),
		ListingID:  listingID.String(),
		RenterID:   booking.RenterID.String(),
		CustomerID: booking.CustomerID.String(),
		StartDate:  start,
		EndDate:    end,
		TotalPrice: total,
	})
	return booking, nil
}

func (s *bookingService) GetBooking(ctx context.Context, bookingID utils.SixID) (*models.Booking, error) {
	var booking models.Booking
	err := s.collection().FindOne(ctx, bson.M{"_id": bookingID}).Decode(&booking)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("booking %s not found", bookingID)
		}
		return nil, fmt.Errorf("error finding booking %s: %w", bookingID, err)
	}
	return &booking, nil
}

// ListBookingsForUser returns bookings where the user is either customer or renter, newest first.
func (s *bookingService) ListBookingsForUser(ctx context.Context, username string) ([]models.Booking, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	cursor, err := s.collection().Find(ctx,
		bson.M{"$or": bson.A{bson.M{"customer_id": user.ID}, bson.M{"renter_id": user.ID}}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings for %s: %w", username, err)
	}
	defer cursor.Close(ctx)

	bookings := []models.Booking{}
	if err := cursor.All(ctx, &bookings); err != nil {
		return nil, fmt.Errorf("failed to decode bookings: %w", err)
	}
	return bookings, nil
}

// SetStatus moves a booking to status and mirrors the change onto its listing.
// The listing update is best-effort: a failure there is logged and counted but
// the booking keeps its new status.
func (s *bookingService) SetStatus(ctx context.Context, bookingID utils.SixID, status models.BookingStatus) (*models.Booking, error) {
	if !status.IsValid() {
		return nil, apperr.InvalidInput("invalid booking status %q", status)
	}

	booking, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	previous := booking.Status
	if s.cfg.StrictTransitions && !models.CanTransition(previous, status) {
		return nil, apperr.InvalidOperation("cannot change booking status from %s to %s", previous, status)
	}

	now := time.Now().UTC()
	res, err := s.collection().UpdateOne(ctx,
		bson.M{"_id": bookingID, "status": previous},
		bson.M{"$set": bson.M{"status": status, "updated_at": now}},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update booking %s status: %w", bookingID, err)
	}
	if res.MatchedCount == 0 {
		return nil, apperr.Conflict("booking %s was modified concurrently", bookingID)
	}
	booking.Status = status
	booking.UpdatedAt = now

	s.syncListing(ctx, booking, previous)

	s.metrics.BookingTransitions.WithLabelValues(string(status)).Inc()
	s.logger.Info("Booking status changed",
		zap.String("booking_id", bookingID.String()),
		zap.String("from", string(previous)),
		zap.String("to", string(status)),
	)
	s.publish(ctx, events.SubjectBookingStatusChanged, events.BookingStatusChanged{
		BookingID: bookingID.String(),
		ListingID: booking.ListingID.String(),
		From:      string(previous),
		To:        string(status),
	})
	return booking, nil
}

// syncListing applies the listing side effect of booking reaching its current status.
func (s *bookingService) syncListing(ctx context.Context, booking *models.Booking, previous models.BookingStatus) {
	var err error
	switch booking.Status {
	case models.BookingConfirmed:
		err = s.listings.MarkBooked(ctx, booking.ListingID, booking.StartDate, booking.EndDate, previous != models.BookingConfirmed)
	case models.BookingCancelled:
		_, err = s.listings.ReleaseWindow(ctx, booking.ListingID, booking.StartDate, booking.EndDate)
	case models.BookingCompleted:
		_, err = s.listings.ReleaseIfBookedUntil(ctx, booking.ListingID, booking.EndDate)
	default:
		return
	}
	if err != nil {
		s.metrics.ListingSyncFailures.Inc()
		s.logger.Warn("Listing availability not updated after booking status change",
			zap.String("booking_id", booking.ID.String()),
			zap.String("listing_id", booking.ListingID.String()),
			zap.String("status", string(booking.Status)),
			zap.Error(err),
		)
	}
}

// MarkPaid records a customer payment. The booking status is not checked.
func (s *bookingService) MarkPaid(ctx context.Context, bookingID utils.SixID, method, ref string) (*models.Booking, error) {
	now := time.Now().UTC()
	booking, err := s.updatePayment(ctx, bookingID, bson.M{
		"payment_status": models.PaymentPaid,
		"payment_method": strings.TrimSpace(method),
		"payment_ref":    strings.TrimSpace(ref),
		"paid_at":        now,
		"updated_at":     now,
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.SubjectBookingPaid, events.BookingPayment{
		BookingID:     bookingID.String(),
		PaymentStatus: string(booking.PaymentStatus),
		PaymentMethod: booking.PaymentMethod,
		PaymentRef:    booking.PaymentRef,
	})
	return booking, nil
}

// MarkSettled records that the renter received the payment. The booking status is not checked.
func (s *bookingService) MarkSettled(ctx context.Context, bookingID utils.SixID) (*models.Booking, error) {
	now := time.Now().UTC()
	booking, err := s.updatePayment(ctx, bookingID, bson.M{
		"payment_status": models.PaymentSettled,
		"settled_at":     now,
		"updated_at":     now,
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.SubjectBookingSettled, events.BookingPayment{
		BookingID:     bookingID.String(),
		PaymentStatus: string(booking.PaymentStatus),
	})
	return booking, nil
}

func (s *bookingService) updatePayment(ctx context.Context, bookingID utils.SixID, set bson.M) (*models.Booking, error) {
	var booking models.Booking
	err := s.collection().FindOneAndUpdate(ctx,
		bson.M{"_id": bookingID},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&booking)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("booking %s not found", bookingID)
		}
		return nil, fmt.Errorf("failed to update payment of booking %s: %w", bookingID, err)
	}
	s.logger.Info("Booking payment updated",
		zap.String("booking_id", bookingID.String()),
		zap.String("payment_status", string(booking.PaymentStatus)),
	)
	return &booking, nil
}

// AutoCompleteDue completes every Confirmed booking whose end date is before now.
func (s *bookingService) AutoCompleteDue(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.collection().UpdateMany(ctx,
		bson.M{"status": models.BookingConfirmed, "end_date": bson.M{"$lt": now}},
		bson.M{"$set": bson.M{"status": models.BookingCompleted, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to auto-complete bookings: %w", err)
	}
	if res.ModifiedCount > 0 {
		s.metrics.BookingTransitions.WithLabelValues(string(models.BookingCompleted)).Add(float64(res.ModifiedCount))
	}
	return res.ModifiedCount, nil
}

func (s *bookingService) publish(ctx context.Context, subject string, payload interface{}) {
	if err := s.publisher.Publish(ctx, subject, payload); err != nil {
		s.logger.Warn("Failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}
