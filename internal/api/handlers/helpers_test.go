package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rentmarket/api/internal/api"
	"rentmarket/api/internal/apperr"
	"rentmarket/api/internal/auth"
	"rentmarket/api/internal/config"
	"rentmarket/api/internal/metrics"
	"rentmarket/api/internal/models"
	"rentmarket/api/internal/utils"
)

const testSecret = "handler-secret"

// testAPI is the full public router wired to mocks.
type testAPI struct {
	cfg      *config.Config
	users    *MockUserService
	listings *MockListingService
	bookings *MockBookingService
	reviews  *MockReviewService
	store    *MockS3Storage
	queue    *MockAsynqClient
	router   *gin.Engine

	renter   *models.User
	customer *models.User
	admin    *models.User
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	a := &testAPI{
		cfg: &config.Config{
			JwtSecret:           testSecret,
			ImageBaseS3URL:      "https://cdn.example.com",
			ImageMaxSizeMB:      1,
			RateLimitRefillRate: 1000,
			RateLimitBucketSize: 1000,
		},
		users:    new(MockUserService),
		listings: new(MockListingService),
		bookings: new(MockBookingService),
		reviews:  new(MockReviewService),
		store:    new(MockS3Storage),
		queue:    new(MockAsynqClient),
		renter:   &models.User{Base: models.Base{ID: utils.NewSixID()}, Username: "rui", Role: models.RoleRenter, ApprovalStatus: models.ApprovalApproved},
		customer: &models.User{Base: models.Base{ID: utils.NewSixID()}, Username: "carla", Role: models.RoleCustomer, ApprovalStatus: models.ApprovalApproved},
		admin:    &models.User{Base: models.Base{ID: utils.NewSixID()}, Username: "ana", Role: models.RoleCustomer, IsAdmin: true},
	}
	a.router = api.SetupRouter(ctx, a.cfg, api.Services{
		Users:    a.users,
		Listings: a.listings,
		Bookings: a.bookings,
		Reviews:  a.reviews,
		Storage:  a.store,
		Tasks:    a.queue,
	}, metrics.New(), zap.NewNop())
	return a
}

func (a *testAPI) token(t *testing.T, user *models.User) string {
	t.Helper()
	token, err := auth.GenerateJWT(user, testSecret, time.Hour)
	require.NoError(t, err)
	return token
}

// do sends body as JSON when it is not nil.
func (a *testAPI) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req, _ := http.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return a.send(req, token)
}

func (a *testAPI) send(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

type errorBody struct {
	Error string      `json:"error"`
	Kind  apperr.Kind `json:"kind"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}
