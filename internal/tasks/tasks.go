package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"rentmarket/api/internal/apperr"
	"rentmarket/api/internal/config"
	"rentmarket/api/internal/services"
	"rentmarket/api/internal/storage"
	"rentmarket/api/internal/utils"
)

// Task types.
const (
	TypeBookingSweep = "booking:sweep"
	TypeImageProcess = "image:process"
)

// Queue names.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueImages   = "images"
)

// Enqueuer is the subset of *asynq.Client used by producers.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// RedisOpt builds the asynq connection options from config.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// --- Task Client (Enqueuing tasks) ---

func NewClient(cfg *config.Config) *asynq.Client {
	return asynq.NewClient(RedisOpt(cfg))
}

// SweepTaskPayload is optional; an empty payload sweeps against the processing time.
type SweepTaskPayload struct {
	Now *time.Time `json:"now,omitempty"`
}

func NewSweepTask() *asynq.Task {
	return asynq.NewTask(TypeBookingSweep, nil, asynq.Queue(QueueCritical), asynq.MaxRetry(3))
}

// ImageTaskPayload points the image worker at a raw upload.
type ImageTaskPayload struct {
	S3Key     string `json:"s3_key"`
	ListingID string `json:"listing_id"`
}

func NewImageProcessTask(listingID utils.SixID, key string) (*asynq.Task, error) {
	payload, err := json.Marshal(ImageTaskPayload{S3Key: key, ListingID: listingID.String()})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal image task payload: %w", err)
	}
	return asynq.NewTask(TypeImageProcess, payload, asynq.Queue(QueueImages), asynq.MaxRetry(5)), nil
}

// EnqueueImageProcess schedules normalisation of an uploaded listing image.
func EnqueueImageProcess(ctx context.Context, q Enqueuer, listingID utils.SixID, key string) error {
	task, err := NewImageProcessTask(listingID, key)
	if err != nil {
		return err
	}
	if _, err := q.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue image task for %s: %w", key, err)
	}
	return nil
}

// --- Task Server (Processing tasks) ---

// TaskProcessor holds the dependencies of the task handlers.
type TaskProcessor struct {
	cfg            *config.Config
	sweeper        *Sweeper
	storageService storage.IS3Storage
	listingService services.IListingService
	logger         *zap.Logger
}

func NewTaskProcessor(
	cfg *config.Config,
	sweeper *Sweeper,
	storageService storage.IS3Storage,
	listingService services.IListingService,
	log *zap.Logger,
) *TaskProcessor {
	return &TaskProcessor{
		cfg:            cfg,
		sweeper:        sweeper,
		storageService: storageService,
		listingService: listingService,
		logger:         log.Named("tasks"),
	}
}

// NewServer configures an asynq server. The caller starts it with Start(mux).
func NewServer(cfg *config.Config, log *zap.Logger) *asynq.Server {
	named := log.Named("asynq")
	return asynq.NewServer(
		RedisOpt(cfg),
		asynq.Config{
			Queues: map[string]int{
				QueueCritical: 6,
				QueueImages:   4,
				QueueDefault:  3,
			},
			Logger: named.Sugar(),
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				named.Error("Task failed",
					zap.String("type", task.Type()),
					zap.ByteString("payload", task.Payload()),
					zap.Error(err),
				)
			}),
		},
	)
}

// NewServeMux registers handlers for the enabled worker roles.
func NewServeMux(processor *TaskProcessor, sweeps, images bool) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	if sweeps {
		mux.HandleFunc(TypeBookingSweep, processor.HandleBookingSweepTask)
	}
	if images {
		mux.HandleFunc(TypeImageProcess, processor.HandleImageProcessTask)
	}
	return mux
}

// NewScheduler registers the periodic sweep at cfg.SweepCron.
func NewScheduler(cfg *config.Config, log *zap.Logger) (*asynq.Scheduler, error) {
	named := log.Named("scheduler")
	scheduler := asynq.NewScheduler(RedisOpt(cfg), &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   named.Sugar(),
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				named.Warn("Failed to enqueue scheduled task", zap.Error(err))
			}
		},
	})
	entryID, err := scheduler.Register(cfg.SweepCron, NewSweepTask())
	if err != nil {
		return nil, fmt.Errorf("failed to register sweep schedule %q: %w", cfg.SweepCron, err)
	}
	named.Info("Sweep scheduled", zap.String("cron", cfg.SweepCron), zap.String("entry_id", entryID))
	return scheduler, nil
}

// --- Task Handlers ---

func (p *TaskProcessor) HandleBookingSweepTask(ctx context.Context, t *asynq.Task) error {
	now := time.Now().UTC()
	if len(t.Payload()) > 0 {
		var payload SweepTaskPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("failed to unmarshal sweep payload: %v: %w", err, asynq.SkipRetry)
		}
		if payload.Now != nil {
			now = payload.Now.UTC()
		}
	}

	_, err := p.sweeper.Run(ctx, now)
	return err
}

// HandleImageProcessTask normalises an uploaded image in place and attaches it to its listing.
func (p *TaskProcessor) HandleImageProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ImageTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal image task payload: %v: %w", err, asynq.SkipRetry)
	}

	listingID, err := utils.ParseSixID(payload.ListingID)
	if err != nil {
		return fmt.Errorf("invalid listing ID %q in payload: %w", payload.ListingID, asynq.SkipRetry)
	}
	log := p.logger.With(zap.String("s3_key", payload.S3Key), zap.String("listing_id", payload.ListingID))

	data, _, err := p.storageService.GetObject(ctx, payload.S3Key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			log.Warn("Uploaded image is gone")
			return fmt.Errorf("image object not found: %w", asynq.SkipRetry)
		}
		return err
	}

	maxBytes := int64(p.cfg.ImageMaxSizeMB) * 1024 * 1024
	processed, err := NormalizeImage(data, uint(p.cfg.ImageMaxDimension), maxBytes)
	if err != nil {
		log.Warn("Rejected uploaded image", zap.Error(err))
		if delErr := p.storageService.DeleteObject(ctx, payload.S3Key); delErr != nil {
			log.Warn("Failed to delete rejected image", zap.Error(delErr))
		}
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if err := p.storageService.PutObject(ctx, payload.S3Key, processed, "image/jpeg"); err != nil {
		return err
	}

	if err := p.listingService.AddImageToListing(ctx, listingID, payload.S3Key); err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			log.Warn("Listing deleted before its image was processed")
			return fmt.Errorf("listing not found: %w", asynq.SkipRetry)
		}
		return err
	}

	log.Info("Image processed", zap.Int("bytes", len(processed)))
	return nil
}
