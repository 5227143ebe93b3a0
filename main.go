package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"rentmarket/api/internal/api"
	"rentmarket/api/internal/cache"
	"rentmarket/api/internal/config"
	"rentmarket/api/internal/db"
	"rentmarket/api/internal/events"
	"rentmarket/api/internal/logger"
	"rentmarket/api/internal/metrics"
	"rentmarket/api/internal/services"
	"rentmarket/api/internal/storage"
	"rentmarket/api/internal/tasks"
)

const appName = "rentmarket"

var runMode = flag.String("m", "all", "Run mode: 'api', 'bg' (sweeps and image processing), 'all' (default)")

func main() {
	flag.Parse()

	cfg, err := config.Load(*runMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	switch cfg.RunMode {
	case "api", "bg", "all":
	default:
		fmt.Fprintf(os.Stderr, "Invalid run mode: %s\n", cfg.RunMode)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat).With(zap.String("mode", cfg.RunMode))
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mongoClient, mongoDb, err := db.ConnectDB(cfg.MongoURI, cfg.MongoDbName, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.DisconnectDB(mongoClient, log); err != nil {
			log.Error("Error disconnecting from MongoDB", zap.Error(err))
		}
	}()
	if err := db.EnsureIndexes(ctx, mongoDb); err != nil {
		log.Fatal("Failed to ensure indexes", zap.Error(err))
	}

	redisClient, err := cache.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer func() {
		if err := cache.DisconnectRedis(redisClient, log); err != nil {
			log.Error("Error disconnecting from Redis", zap.Error(err))
		}
	}()

	publisher := events.NewNoopPublisher()
	if cfg.NatsURL != "" {
		if publisher, err = events.NewNatsPublisher(cfg.NatsURL, appName, log); err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
	} else {
		log.Info("NATS_URL not set, domain events are not published")
	}
	defer publisher.Close()

	m := metrics.New()

	userService := services.NewUserService(mongoDb, cfg, log)
	listingService := services.NewListingService(mongoDb, cfg, userService, log)
	bookingService := services.NewBookingService(mongoDb, cfg, listingService, userService,
		cache.NewRedisLocker(redisClient, cfg.BookingLockTTL), publisher, m, log)
	reviewService := services.NewReviewService(mongoDb, bookingService, listingService, publisher, m, log)
	sweeper := tasks.NewSweeper(bookingService, listingService, publisher, m, log)

	var storageService storage.IS3Storage
	if cfg.StorageEnabled() {
		if storageService, err = storage.NewS3Storage(ctx, cfg, log); err != nil {
			log.Fatal("Failed to initialize S3 storage", zap.Error(err))
		}
	} else {
		log.Info("AWS_S3_BUCKET not set, listing image uploads are disabled")
	}

	taskClient := tasks.NewClient(cfg)
	defer taskClient.Close()

	var wg sync.WaitGroup
	shutdownChan := make(chan struct{}, 1)

	serviceSrv := &http.Server{
		Addr:    ":" + cfg.ServiceApiPort,
		Handler: api.SetupServiceRouter(sweeper, m, shutdownChan, log),
	}
	serve(&wg, serviceSrv, "Service API", log)

	var mainApiSrv *http.Server
	var taskSrv *asynq.Server
	var scheduler *asynq.Scheduler

	if cfg.RunMode == "api" || cfg.RunMode == "all" {
		svc := api.Services{
			Users:    userService,
			Listings: listingService,
			Bookings: bookingService,
			Reviews:  reviewService,
		}
		if storageService != nil {
			svc.Storage = storageService
			svc.Tasks = taskClient
		}
		mainApiSrv = &http.Server{
			Addr:    ":" + cfg.ApiPort,
			Handler: api.SetupRouter(ctx, cfg, svc, m, log),
		}
		serve(&wg, mainApiSrv, "Main API", log)
	}

	if cfg.RunMode == "bg" || cfg.RunMode == "all" {
		processor := tasks.NewTaskProcessor(cfg, sweeper, storageService, listingService, log)
		taskSrv = tasks.NewServer(cfg, log)
		if err := taskSrv.Start(tasks.NewServeMux(processor, true, storageService != nil)); err != nil {
			log.Fatal("Failed to start task server", zap.Error(err))
		}

		if scheduler, err = tasks.NewScheduler(cfg, log); err != nil {
			log.Fatal("Failed to configure sweep scheduler", zap.Error(err))
		}
		if err := scheduler.Start(); err != nil {
			log.Fatal("Failed to start sweep scheduler", zap.Error(err))
		}
		log.Info("Sweep scheduled", zap.String("cron", cfg.SweepCron))

		if cfg.SweepOnStart {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := sweeper.Run(ctx, time.Now().UTC()); err != nil {
					log.Warn("Startup sweep finished with errors", zap.Error(err))
				}
			}()
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case <-shutdownChan:
		log.Info("Shutdown requested via Service API")
	}
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	if err := serviceSrv.Shutdown(ctxShutdown); err != nil {
		log.Error("Service API shutdown error", zap.Error(err))
	}
	if mainApiSrv != nil {
		if err := mainApiSrv.Shutdown(ctxShutdown); err != nil {
			log.Error("Main API shutdown error", zap.Error(err))
		}
	}
	if scheduler != nil {
		scheduler.Shutdown()
	}
	if taskSrv != nil {
		taskSrv.Shutdown()
	}

	wg.Wait()
	log.Info("Server gracefully stopped")
}

func serve(wg *sync.WaitGroup, srv *http.Server, name string, log *zap.Logger) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info(name+" listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(name+" ListenAndServe error", zap.Error(err))
		}
		log.Info(name + " stopped")
	}()
}
