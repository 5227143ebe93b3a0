package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rentmarket/api/internal/api/handlers"
	"rentmarket/api/internal/api/middleware"
	"rentmarket/api/internal/config"
	"rentmarket/api/internal/metrics"
	"rentmarket/api/internal/models"
	"rentmarket/api/internal/services"
	"rentmarket/api/internal/storage"
	"rentmarket/api/internal/tasks"
)

// Services bundles what the public router needs.
type Services struct {
	Users    services.IUserService
	Listings services.IListingService
	Bookings services.IBookingService
	Reviews  services.IReviewService
	Storage  storage.IS3Storage // nil disables image uploads
	Tasks    tasks.Enqueuer     // nil disables image uploads
}

// SetupRouter configures and returns the main Gin engine. ctx bounds the
// rate limiter's background cleanup.
func SetupRouter(ctx context.Context, cfg *config.Config, svc Services, m *metrics.Metrics, log *zap.Logger) *gin.Engine {
	r := gin.New()

	rateLimiter := middleware.NewRateLimiterMiddleware(ctx, cfg.RateLimitRefillRate, cfg.RateLimitBucketSize, log)

	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.Metrics(m))
	r.Use(middleware.CORSMiddleware(cfg.CorsAllowOrigin))
	r.Use(rateLimiter.Limit())

	userHandler := handlers.NewUserHandler(svc.Users, log)
	listingHandler := handlers.NewListingHandler(cfg, svc.Listings, svc.Users, svc.Storage, svc.Tasks, log)
	bookingHandler := handlers.NewBookingHandler(svc.Bookings, log)
	reviewHandler := handlers.NewReviewHandler(svc.Reviews, log)
	adminHandler := handlers.NewAdminHandler(svc.Listings, svc.Users, log)

	authRequired := middleware.AuthMiddleware(cfg.JwtSecret)

	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	users := r.Group("/users")
	{
		users.POST("/register", userHandler.Register)
		users.POST("/login", userHandler.Login)
		users.GET("/:username", userHandler.GetProfile)
	}

	listings := r.Group("/listings")
	{
		listings.GET("", listingHandler.Search)
		listings.GET("/owner/:username", listingHandler.ListByOwner)
		listings.GET("/:id", listingHandler.Get)
		listings.POST("", authRequired, middleware.RoleMiddleware(models.RoleRenter), listingHandler.Create)
		listings.PUT("/:id", authRequired, listingHandler.Update)
		listings.DELETE("/:id", authRequired, listingHandler.Delete)
	}

	bookings := r.Group("/bookings", authRequired)
	{
		bookings.POST("/create", bookingHandler.Create)
		bookings.GET("/user/:username", bookingHandler.ListForUser)
		bookings.GET("/:id", bookingHandler.Get)
		bookings.PUT("/status/:id", bookingHandler.SetStatus)
		bookings.PUT("/pay/:id", bookingHandler.Pay)
		bookings.PUT("/settle/:id", bookingHandler.Settle)
		bookings.POST("/auto-complete", middleware.AdminMiddleware(), bookingHandler.AutoComplete)
	}

	reviews := r.Group("/reviews")
	{
		reviews.POST("/create", authRequired, reviewHandler.Create)
		reviews.GET("/listing/:id", reviewHandler.ListForListing)
	}

	admin := r.Group("/admin", authRequired, middleware.AdminMiddleware())
	{
		admin.GET("/listings", adminHandler.ListListings)
		admin.PUT("/listings/:id/active", adminHandler.SetListingActive)
		admin.DELETE("/listings/:id", adminHandler.DeleteListing)
		admin.GET("/users", adminHandler.ListUsers)
		admin.PUT("/users/:id/approval", adminHandler.SetApproval)
	}

	return r
}

// Sweeper runs the auto-expiry sweep on demand.
type Sweeper interface {
	Run(ctx context.Context, now time.Time) (tasks.SweepResult, error)
}

// SetupServiceRouter configures the internal service Gin engine: health,
// Prometheus metrics and the POST /api command endpoint.
func SetupServiceRouter(sweeper Sweeper, m *metrics.Metrics, shutdownChan chan<- struct{}, log *zap.Logger) *gin.Engine {
	log = log.Named("service_api")
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(m.Handler()))

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			log.Info("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
			default:
				log.Warn("Shutdown channel already signaled")
			}
		case "sweep":
			if sweeper == nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "Sweep is not available in this mode"})
				return
			}
			now := time.Now().UTC()
			var args struct {
				Now *time.Time `json:"now"`
			}
			if len(req.Arguments) > 0 {
				if err := json.Unmarshal(req.Arguments, &args); err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected {\"now\": RFC3339}"})
					return
				}
				if args.Now != nil {
					now = args.Now.UTC()
				}
			}
			result, err := sweeper.Run(c.Request.Context(), now)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error(), "result": result})
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Unknown service method: " + req.Method})
		}
	})
	return r
}
