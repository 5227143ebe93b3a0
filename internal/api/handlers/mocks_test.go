package handlers_test

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"

	"rentmarket/api/internal/models"
	"rentmarket/api/internal/services"
	"rentmarket/api/internal/utils"
)

// --- Mocks ---

// MockUserService
type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) Register(ctx context.Context, username, email, password string, role models.Role) (*models.User, error) {
	args := m.Called(ctx, username, email, password, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}
func (m *MockUserService) Authenticate(ctx context.Context, username, password string) (string, *models.User, error) {
	args := m.Called(ctx, username, password)
	if args.Get(1) == nil {
		return args.String(0), nil, args.Error(2)
	}
	return args.String(0), args.Get(1).(*models.User), args.Error(2)
}
func (m *MockUserService) FindByID(ctx context.Context, userID utils.SixID) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}
func (m *MockUserService) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}
func (m *MockUserService) SetApprovalStatus(ctx context.Context, userID utils.SixID, status models.ApprovalStatus) (*models.User, error) {
	args := m.Called(ctx, userID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}
func (m *MockUserService) ListByApprovalStatus(ctx context.Context, status models.ApprovalStatus) ([]models.User, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.User), args.Error(1)
}

// MockListingService
type MockListingService struct {
	mock.Mock
}

func (m *MockListingService) CreateListing(ctx context.Context, ownerID utils.SixID, input services.ListingInput) (*models.Listing, error) {
	args := m.Called(ctx, ownerID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}
func (m *MockListingService) GetListing(ctx context.Context, listingID utils.SixID) (*models.Listing, error) {
	args := m.Called(ctx, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}
func (m *MockListingService) FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error) {
	args := m.Called(ctx, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}
func (m *MockListingService) UpdateListing(ctx context.Context, listingID, ownerID utils.SixID, update services.ListingUpdate) (*models.Listing, error) {
	args := m.Called(ctx, listingID, ownerID, update)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}
func (m *MockListingService) DeleteListing(ctx context.Context, listingID, ownerID utils.SixID) error {
	args := m.Called(ctx, listingID, ownerID)
	return args.Error(0)
}
func (m *MockListingService) SearchListings(ctx context.Context, filter services.ListingFilter) ([]models.Listing, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Listing), args.Error(1)
}
func (m *MockListingService) AddImageToListing(ctx context.Context, listingID utils.SixID, imageKey string) error {
	args := m.Called(ctx, listingID, imageKey)
	return args.Error(0)
}
func (m *MockListingService) AdminListListings(ctx context.Context, includeInactive bool, limit, offset int64) ([]models.Listing, error) {
	args := m.Called(ctx, includeInactive, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Listing), args.Error(1)
}
func (m *MockListingService) AdminSetActive(ctx context.Context, listingID utils.SixID, active bool) error {
	args := m.Called(ctx, listingID, active)
	return args.Error(0)
}
func (m *MockListingService) AdminHardDelete(ctx context.Context, listingID utils.SixID) error {
	args := m.Called(ctx, listingID)
	return args.Error(0)
}
func (m *MockListingService) MarkBooked(ctx context.Context, listingID utils.SixID, from, until time.Time, countBooking bool) error {
	args := m.Called(ctx, listingID, from, until, countBooking)
	return args.Error(0)
}
func (m *MockListingService) ReleaseWindow(ctx context.Context, listingID utils.SixID, from, until time.Time) (bool, error) {
	args := m.Called(ctx, listingID, from, until)
	return args.Bool(0), args.Error(1)
}
func (m *MockListingService) ReleaseIfBookedUntil(ctx context.Context, listingID utils.SixID, until time.Time) (bool, error) {
	args := m.Called(ctx, listingID, until)
	return args.Bool(0), args.Error(1)
}
func (m *MockListingService) FreeExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockListingService) ApplyRating(ctx context.Context, listingID utils.SixID, avg float64, count int64) error {
	args := m.Called(ctx, listingID, avg, count)
	return args.Error(0)
}

// MockBookingService
type MockBookingService struct {
	mock.Mock
}

func (m *MockBookingService) CreateBooking(ctx context.Context, listingID, customerID utils.SixID, start, end time.Time, bookingType string) (*models.Booking, error) {
	args := m.Called(ctx, listingID, customerID, start, end, bookingType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *MockBookingService) GetBooking(ctx context.Context, bookingID utils.SixID) (*models.Booking, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *MockBookingService) ListBookingsForUser(ctx context.Context, username string) ([]models.Booking, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Booking), args.Error(1)
}
func (m *MockBookingService) SetStatus(ctx context.Context, bookingID utils.SixID, status models.BookingStatus) (*models.Booking, error) {
	args := m.Called(ctx, bookingID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *MockBookingService) MarkPaid(ctx context.Context, bookingID utils.SixID, method, ref string) (*models.Booking, error) {
	args := m.Called(ctx, bookingID, method, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *MockBookingService) MarkSettled(ctx context.Context, bookingID utils.SixID) (*models.Booking, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *MockBookingService) AutoCompleteDue(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

// MockReviewService
type MockReviewService struct {
	mock.Mock
}

func (m *MockReviewService) CreateReview(ctx context.Context, bookingID, customerID utils.SixID, rating int, comment string) (*models.Review, error) {
	args := m.Called(ctx, bookingID, customerID, rating, comment)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Review), args.Error(1)
}
func (m *MockReviewService) ListReviewsForListing(ctx context.Context, listingID utils.SixID) ([]models.Review, error) {
	args := m.Called(ctx, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Review), args.Error(1)
}
func (m *MockReviewService) RecomputeRating(ctx context.Context, listingID utils.SixID) (float64, int64, error) {
	args := m.Called(ctx, listingID)
	return args.Get(0).(float64), args.Get(1).(int64), args.Error(2)
}

// MockS3Storage
type MockS3Storage struct {
	mock.Mock
}

func (m *MockS3Storage) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	args := m.Called(ctx, key, data, contentType)
	return args.Error(0)
}
func (m *MockS3Storage) GetObject(ctx context.Context, key string) ([]byte, string, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.String(1), args.Error(2)
}
func (m *MockS3Storage) DeleteObject(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// MockAsynqClient
type MockAsynqClient struct {
	mock.Mock
}

func (m *MockAsynqClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}

// Compile-time checks.
var (
	_ services.IUserService    = (*MockUserService)(nil)
	_ services.IListingService = (*MockListingService)(nil)
	_ services.IBookingService = (*MockBookingService)(nil)
	_ services.IReviewService  = (*MockReviewService)(nil)
)
