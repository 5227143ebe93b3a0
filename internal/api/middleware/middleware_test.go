package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rentmarket/api/internal/apperr"
	"rentmarket/api/internal/auth"
	"rentmarket/api/internal/metrics"
	"rentmarket/api/internal/models"
	"rentmarket/api/internal/utils"
)

const testSecret = "middleware-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func tokenFor(t *testing.T, user *models.User) string {
	t.Helper()
	token, err := auth.GenerateJWT(user, testSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func do(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	r.ServeHTTP(w, req)
	return w
}

func kindOf(t *testing.T, w *httptest.ResponseRecorder) apperr.Kind {
	t.Helper()
	var body struct {
		Kind apperr.Kind `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Kind
}

func TestAuthMiddleware(t *testing.T) {
	user := &models.User{Base: models.Base{ID: utils.NewSixID()}, Username: "rui", Role: models.RoleRenter}

	r := gin.New()
	r.GET("/me", AuthMiddleware(testSecret), func(c *gin.Context) {
		p, ok := CurrentPrincipal(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"id": p.UserID.String(), "username": p.Username, "role": p.Role, "admin": p.IsAdmin})
	})

	w := do(r, http.MethodGet, "/me", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apperr.KindUnauthorized, kindOf(t, w))

	w = do(r, http.MethodGet, "/me", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other, err := auth.GenerateJWT(user, "another-secret", time.Hour)
	require.NoError(t, err)
	w = do(r, http.MethodGet, "/me", other)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodGet, "/me", tokenFor(t, user))
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, user.ID.String(), body["id"])
	assert.Equal(t, "rui", body["username"])
	assert.Equal(t, "renter", body["role"])
	assert.Equal(t, false, body["admin"])
}

func TestAdminAndRoleMiddleware(t *testing.T) {
	customer := &models.User{Base: models.Base{ID: utils.NewSixID()}, Username: "carla", Role: models.RoleCustomer}
	renter := &models.User{Base: models.Base{ID: utils.NewSixID()}, Username: "rui", Role: models.RoleRenter}
	admin := &models.User{Base: models.Base{ID: utils.NewSixID()}, Username: "ana", Role: models.RoleCustomer, IsAdmin: true}

	r := gin.New()
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }
	r.GET("/admin", AuthMiddleware(testSecret), AdminMiddleware(), ok)
	r.GET("/renters", AuthMiddleware(testSecret), RoleMiddleware(models.RoleRenter), ok)

	w := do(r, http.MethodGet, "/admin", tokenFor(t, customer))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, apperr.KindForbidden, kindOf(t, w))
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodGet, "/admin", tokenFor(t, admin)).Code)

	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/renters", tokenFor(t, customer)).Code)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodGet, "/renters", tokenFor(t, renter)).Code)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodGet, "/renters", tokenFor(t, admin)).Code)
}

func TestCORSMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware("https://app.example.com"))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := do(r, http.MethodOptions, "/x", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	r = gin.New()
	r.Use(CORSMiddleware(""))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	w = do(r, http.MethodGet, "/x", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rm := NewRateLimiterMiddleware(ctx, 1, 2, zap.NewNop())
	r := gin.New()
	r.Use(rm.Limit())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/x", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/x", "").Code)
	w := do(r, http.MethodGet, "/x", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, apperr.KindRateLimited, kindOf(t, w))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rm := NewRateLimiterMiddleware(ctx, 1, 1, zap.NewNop())
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rm.now = func() time.Time { return now }

	rm.getClientLimiter("10.0.0.1")
	now = now.Add(time.Hour)
	rm.getClientLimiter("10.0.0.2")

	assert.Equal(t, 1, rm.cleanup(30*time.Minute))
	rm.mu.Lock()
	defer rm.mu.Unlock()
	assert.Contains(t, rm.clients, "10.0.0.2")
	assert.NotContains(t, rm.clients, "10.0.0.1")
}

func TestMetricsAndLogger(t *testing.T) {
	m := metrics.New()
	r := gin.New()
	r.Use(RequestLogger(zap.NewNop()), Metrics(m))
	r.GET("/listings/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	do(r, http.MethodGet, "/listings/abc", "")
	do(r, http.MethodGet, "/listings/def", "")
	do(r, http.MethodGet, "/nowhere", "")

	assert.Equal(t, 2, testutil.CollectAndCount(m.HTTPRequestDuration))
}
