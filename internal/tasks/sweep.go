package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"rentmarket/api/internal/events"
	"rentmarket/api/internal/metrics"
	"rentmarket/api/internal/services"
)

// SweepResult reports what a single sweep changed.
type SweepResult struct {
	BookingsCompleted int64 `json:"bookings_completed"`
	ListingsFreed     int64 `json:"listings_freed"`
}

// Sweeper completes overdue bookings and frees listings whose booked window has passed.
type Sweeper struct {
	bookings  services.IBookingService
	listings  services.IListingService
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewSweeper(
	bookings services.IBookingService,
	listings services.IListingService,
	publisher events.Publisher,
	m *metrics.Metrics,
	log *zap.Logger,
) *Sweeper {
	return &Sweeper{
		bookings:  bookings,
		listings:  listings,
		publisher: publisher,
		metrics:   m,
		logger:    log.Named("sweep"),
	}
}

// Run executes both sweep steps against now. The second step runs even when the
// first one fails; any errors are joined.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (SweepResult, error) {
	now = now.UTC()
	var result SweepResult
	var errs []error

	completed, err := s.bookings.AutoCompleteDue(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("complete bookings: %w", err))
	} else {
		result.BookingsCompleted = completed
		s.metrics.SweepBookingsCompleted.Add(float64(completed))
	}

	freed, err := s.listings.FreeExpired(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("free listings: %w", err))
	} else {
		result.ListingsFreed = freed
		s.metrics.SweepListingsFreed.Add(float64(freed))
	}

	runErr := errors.Join(errs...)

	payload := events.SweepCompleted{
		BookingsCompleted: result.BookingsCompleted,
		ListingsFreed:     result.ListingsFreed,
		RanAt:             now,
	}
	for _, e := range errs {
		payload.Errors = append(payload.Errors, e.Error())
	}
	if err := s.publisher.Publish(ctx, events.SubjectSweepCompleted, payload); err != nil {
		s.logger.Warn("Failed to publish sweep result", zap.Error(err))
	}

	if runErr != nil {
		s.logger.Error("Sweep finished with errors",
			zap.Int64("bookings_completed", result.BookingsCompleted),
			zap.Int64("listings_freed", result.ListingsFreed),
			zap.Error(runErr),
		)
		return result, runErr
	}

	s.logger.Info("Sweep finished",
		zap.Int64("bookings_completed", result.BookingsCompleted),
		zap.Int64("listings_freed", result.ListingsFreed),
	)
	return result, nil
}
