package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"rentmarket/api/internal/cache"
	"rentmarket/api/internal/config"
	"rentmarket/api/internal/db"
	"rentmarket/api/internal/metrics"
	"rentmarket/api/internal/models"
	"rentmarket/api/internal/utils"
)

// recordingPublisher keeps published subjects for assertions.
type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads []interface{}
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *recordingPublisher) Close() {}

// Last returns the most recent payload published on subject, or nil.
func (p *recordingPublisher) Last(subject string) interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.subjects) - 1; i >= 0; i-- {
		if p.subjects[i] == subject {
			return p.payloads[i]
		}
	}
	return nil
}

func (p *recordingPublisher) Subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.subjects...)
}

type testEnv struct {
	db        *mongo.Database
	cfg       *config.Config
	metrics   *metrics.Metrics
	publisher *recordingPublisher
	users     IUserService
	listings  IListingService
	bookings  IBookingService
	reviews   IReviewService
}

func newTestEnv(t *testing.T, dbName string) *testEnv {
	t.Helper()
	database := utils.SetupTestDB(t, dbName,
		db.UsersCollection, db.ListingsCollection, db.BookingsCollection, db.ReviewsCollection)
	require.NoError(t, db.EnsureIndexes(context.Background(), database))

	cfg := &config.Config{JwtSecret: "test-secret", JwtTTL: time.Hour, StrictTransitions: true}
	return buildEnv(database, cfg)
}

func buildEnv(database *mongo.Database, cfg *config.Config) *testEnv {
	log := zap.NewNop()
	env := &testEnv{
		db:        database,
		cfg:       cfg,
		metrics:   metrics.New(),
		publisher: &recordingPublisher{},
	}
	env.users = NewUserService(database, cfg, log)
	env.listings = NewListingService(database, cfg, env.users, log)
	env.bookings = NewBookingService(database, cfg, env.listings, env.users, cache.NewNoopLocker(), env.publisher, env.metrics, log)
	env.reviews = NewReviewService(database, env.bookings, env.listings, env.publisher, env.metrics, log)
	return env
}

func (e *testEnv) insertUser(t *testing.T, username string, role models.Role, approval models.ApprovalStatus) *models.User {
	t.Helper()
	now := time.Now().UTC()
	user := &models.User{
		Base:           models.Base{ID: utils.NewSixID()},
		Username:       username,
		Email:          username + "@example.com",
		Role:           role,
		ApprovalStatus: approval,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err := e.db.Collection(db.UsersCollection).InsertOne(context.Background(), user)
	require.NoError(t, err)
	return user
}

func (e *testEnv) renter(t *testing.T, username string) *models.User {
	return e.insertUser(t, username, models.RoleRenter, models.ApprovalApproved)
}

func (e *testEnv) customer(t *testing.T, username string) *models.User {
	return e.insertUser(t, username, models.RoleCustomer, models.ApprovalApproved)
}

func (e *testEnv) dailyListing(t *testing.T, owner *models.User, daily float64) *models.Listing {
	t.Helper()
	listing, err := e.listings.CreateListing(context.Background(), owner.ID, ListingInput{
		Name:     "Cordless drill",
		Category: models.CategoryTools,
		Location: models.Location{District: "Centre", City: "Lisbon"},
		Pricing:  models.Pricing{Daily: &daily},
	})
	require.NoError(t, err)
	return listing
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func f64(v float64) *float64 { return &v }
