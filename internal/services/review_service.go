package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"rentmarket/api/internal/apperr"
	"rentmarket/api/internal/db"
	"rentmarket/api/internal/events"
	"rentmarket/api/internal/metrics"
	"rentmarket/api/internal/models"
	"rentmarket/api/internal/utils"
)

// IReviewService stores reviews of completed bookings and keeps listing ratings current.
type IReviewService interface {
	CreateReview(ctx context.Context, bookingID, customerID utils.SixID, rating int, comment string) (*models.Review, error)
	ListReviewsForListing(ctx context.Context, listingID utils.SixID) ([]models.Review, error)
	RecomputeRating(ctx context.Context, listingID utils.SixID) (float64, int64, error)
}

type reviewService struct {
	db        *mongo.Database
	bookings  IBookingService
	listings  IListingService
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewReviewService creates a new ReviewService.
func NewReviewService(
	database *mongo.Database,
	bookings IBookingService,
	listings IListingService,
	publisher events.Publisher,
	m *metrics.Metrics,
	log *zap.Logger,
) IReviewService {
	return &reviewService{
		db:        database,
		bookings:  bookings,
		listings:  listings,
		publisher: publisher,
		metrics:   m,
		logger:    log.Named("reviews"),
	}
}

func (s *reviewService) collection() *mongo.Collection {
	return s.db.Collection(db.ReviewsCollection)
}

// CreateReview stores the customer's review of a completed booking and
// recomputes the listing's average rating over all its reviews.
func (s *reviewService) CreateReview(ctx context.Context, bookingID, customerID utils.SixID, rating int, comment string) (*models.Review, error) {
	if rating < models.MinRating || rating > models.MaxRating {
		return nil, apperr.InvalidInput("rating must be between %d and %d", models.MinRating, models.MaxRating)
	}

	booking, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.CustomerID != customerID {
		return nil, apperr.Forbidden("only the booking's customer can review it")
	}
	if booking.Status != models.BookingCompleted {
		return nil, apperr.InvalidOperation("only completed bookings can be reviewed")
	}

	existing, err := s.collection().CountDocuments(ctx, bson.M{"booking_id": bookingID, "customer_id": customerID})
	if err != nil {
		return nil, fmt.Errorf("failed to check existing review: %w", err)
	}
	if existing > 0 {
		return nil, apperr.InvalidOperation("booking already reviewed")
	}

	review, err := db.InsertOne(ctx, s.collection(), &models.Review{
		BookingID:        bookingID,
		ListingID:        booking.ListingID,
		RenterID:         booking.RenterID,
		CustomerID:       customerID,
		CustomerUsername: booking.CustomerUsername,
		Rating:           rating,
		Comment:          strings.TrimSpace(comment),
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return nil, apperr.InvalidOperation("booking already reviewed")
		}
		return nil, fmt.Errorf("failed to insert review: %w", err)
	}
	s.metrics.ReviewsCreated.Inc()

	avg, count, err := s.RecomputeRating(ctx, booking.ListingID)
	recomputed := err == nil
	if !recomputed {
		// The review is kept; the aggregate catches up on the next review.
		s.metrics.ListingSyncFailures.Inc()
		s.logger.Warn("Listing rating not recomputed",
			zap.String("listing_id", booking.ListingID.String()),
			zap.Error(err),
		)
	}

	s.logger.Info("Review created",
		zap.String("review_id", review.ID.String()),
		zap.String("listing_id", booking.ListingID.String()),
		zap.Int("rating", rating),
	)
	event := events.ReviewCreated{
		ReviewID:  review.ID.String(),
		BookingID: bookingID.String(),
		ListingID: booking.ListingID.String(),
		Rating:    rating,
	}
	if recomputed {
		event.AvgRating = &avg
		event.ReviewCount = &count
	}
	if err := s.publisher.Publish(ctx, events.SubjectReviewCreated, event); err != nil {
		s.logger.Warn("Failed to publish event", zap.String("subject", events.SubjectReviewCreated), zap.Error(err))
	}
	return review, nil
}

// RecomputeRating sets the listing's avg_rating and review_count from all of its reviews.
func (s *reviewService) RecomputeRating(ctx context.Context, listingID utils.SixID) (float64, int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"listing_id": listingID}}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"avg":   bson.M{"$avg": "$rating"},
			"count": bson.M{"$sum": 1},
		}}},
	}

	cursor, err := s.collection().Aggregate(ctx, pipeline)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate ratings for listing %s: %w", listingID, err)
	}
	defer cursor.Close(ctx)

	var result struct {
		Avg   float64 `bson:"avg"`
		Count int64   `bson:"count"`
	}
	if cursor.Next(ctx) {
		if err := cursor.Decode(&result); err != nil {
			return 0, 0, fmt.Errorf("failed to decode rating aggregate: %w", err)
		}
	}
	if err := cursor.Err(); err != nil {
		return 0, 0, fmt.Errorf("rating aggregate cursor error: %w", err)
	}

	if err := s.listings.ApplyRating(ctx, listingID, result.Avg, result.Count); err != nil {
		return 0, 0, err
	}
	return result.Avg, result.Count, nil
}

// ListReviewsForListing returns a listing's reviews, newest first.
func (s *reviewService) ListReviewsForListing(ctx context.Context, listingID utils.SixID) ([]models.Review, error) {
	cursor, err := s.collection().Find(ctx,
		bson.M{"listing_id": listingID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews for listing %s: %w", listingID, err)
	}
	defer cursor.Close(ctx)

	reviews := []models.Review{}
	if err := cursor.All(ctx, &reviews); err != nil {
		return nil, fmt.Errorf("failed to decode reviews: %w", err)
	}
	return reviews, nil
}
