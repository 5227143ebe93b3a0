package tasks_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rentmarket/api/internal/apperr"
	"rentmarket/api/internal/config"
	"rentmarket/api/internal/events"
	"rentmarket/api/internal/metrics"
	"rentmarket/api/internal/services"
	"rentmarket/api/internal/storage"
	"rentmarket/api/internal/tasks"
	"rentmarket/api/internal/utils"
)

// --- Mocks ---

// MockBookingService implements only the methods the sweep needs.
type MockBookingService struct {
	mock.Mock
	services.IBookingService
}

func (m *MockBookingService) AutoCompleteDue(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

type MockListingService struct {
	mock.Mock
	services.IListingService
}

func (m *MockListingService) FreeExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockListingService) AddImageToListing(ctx context.Context, listingID utils.SixID, imageKey string) error {
	args := m.Called(ctx, listingID, imageKey)
	return args.Error(0)
}

type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	args := m.Called(ctx, key, data, contentType)
	return args.Error(0)
}

func (m *MockStorage) GetObject(ctx context.Context, key string) ([]byte, string, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.String(1), args.Error(2)
}

func (m *MockStorage) DeleteObject(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, subject string, payload interface{}) error {
	args := m.Called(ctx, subject, payload)
	return args.Error(0)
}

func (m *MockPublisher) Close() {}

// --- Helpers ---

func testImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func imageTask(t *testing.T, listingID, key string) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(tasks.ImageTaskPayload{S3Key: key, ListingID: listingID})
	require.NoError(t, err)
	return asynq.NewTask(tasks.TypeImageProcess, payload)
}

// --- Sweep ---

func TestSweeperRun_Success(t *testing.T) {
	bookings := new(MockBookingService)
	listings := new(MockListingService)
	publisher := new(MockPublisher)
	m := metrics.New()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	bookings.On("AutoCompleteDue", mock.Anything, now).Return(int64(2), nil)
	listings.On("FreeExpired", mock.Anything, now).Return(int64(3), nil)
	publisher.On("Publish", mock.Anything, events.SubjectSweepCompleted, mock.MatchedBy(func(p events.SweepCompleted) bool {
		return p.BookingsCompleted == 2 && p.ListingsFreed == 3 && len(p.Errors) == 0
	})).Return(nil)

	sweeper := tasks.NewSweeper(bookings, listings, publisher, m, zap.NewNop())
	result, err := sweeper.Run(context.Background(), now)

	require.NoError(t, err)
	assert.Equal(t, tasks.SweepResult{BookingsCompleted: 2, ListingsFreed: 3}, result)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SweepBookingsCompleted))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SweepListingsFreed))
	bookings.AssertExpectations(t)
	listings.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestSweeperRun_StepsAreIndependent(t *testing.T) {
	bookings := new(MockBookingService)
	listings := new(MockListingService)
	publisher := new(MockPublisher)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	storeErr := errors.New("connection reset")

	bookings.On("AutoCompleteDue", mock.Anything, now).Return(int64(0), storeErr)
	listings.On("FreeExpired", mock.Anything, now).Return(int64(4), nil)
	publisher.On("Publish", mock.Anything, events.SubjectSweepCompleted, mock.MatchedBy(func(p events.SweepCompleted) bool {
		return p.ListingsFreed == 4 && len(p.Errors) == 1
	})).Return(errors.New("nats down"))

	sweeper := tasks.NewSweeper(bookings, listings, publisher, metrics.New(), zap.NewNop())
	result, err := sweeper.Run(context.Background(), now)

	require.Error(t, err)
	assert.ErrorIs(t, err, storeErr)
	assert.Equal(t, int64(0), result.BookingsCompleted)
	assert.Equal(t, int64(4), result.ListingsFreed)
	listings.AssertExpectations(t)
}

func TestHandleBookingSweepTask_UsesPayloadTime(t *testing.T) {
	bookings := new(MockBookingService)
	listings := new(MockListingService)
	publisher := new(MockPublisher)
	at := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

	bookings.On("AutoCompleteDue", mock.Anything, at).Return(int64(1), nil)
	listings.On("FreeExpired", mock.Anything, at).Return(int64(1), nil)
	publisher.On("Publish", mock.Anything, events.SubjectSweepCompleted, mock.Anything).Return(nil)

	sweeper := tasks.NewSweeper(bookings, listings, publisher, metrics.New(), zap.NewNop())
	p := tasks.NewTaskProcessor(&config.Config{}, sweeper, nil, listings, zap.NewNop())

	payload, err := json.Marshal(tasks.SweepTaskPayload{Now: &at})
	require.NoError(t, err)
	require.NoError(t, p.HandleBookingSweepTask(context.Background(), asynq.NewTask(tasks.TypeBookingSweep, payload)))

	err = p.HandleBookingSweepTask(context.Background(), asynq.NewTask(tasks.TypeBookingSweep, []byte("{bad")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	bookings.AssertExpectations(t)
}

// --- Images ---

func TestNormalizeImage(t *testing.T) {
	data := testImage(t, 40, 20)

	out, err := tasks.NormalizeImage(data, 10, 1024*1024)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.LessOrEqual(t, img.Bounds().Dx(), 10)
	assert.LessOrEqual(t, img.Bounds().Dy(), 10)

	out, err = tasks.NormalizeImage(data, 100, 1024*1024)
	require.NoError(t, err)
	img, err = jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx(), "small images keep their size")

	_, err = tasks.NormalizeImage(data, 100, 10)
	assert.ErrorIs(t, err, tasks.ErrImageTooLarge)

	_, err = tasks.NormalizeImage([]byte("not an image"), 100, 1024)
	assert.ErrorIs(t, err, tasks.ErrImageUnreadable)
}

func TestHandleImageProcessTask_Success(t *testing.T) {
	store := new(MockStorage)
	listings := new(MockListingService)
	cfg := &config.Config{ImageMaxDimension: 16, ImageMaxSizeMB: 1}
	p := tasks.NewTaskProcessor(cfg, nil, store, listings, zap.NewNop())

	listingID := utils.NewSixID()
	key := "listings/" + listingID.String() + "/a.png"

	store.On("GetObject", mock.Anything, key).Return(testImage(t, 64, 32), "image/png", nil)
	store.On("PutObject", mock.Anything, key, mock.MatchedBy(func(b []byte) bool {
		img, err := jpeg.Decode(bytes.NewReader(b))
		return err == nil && img.Bounds().Dx() <= 16 && img.Bounds().Dy() <= 16
	}), "image/jpeg").Return(nil)
	listings.On("AddImageToListing", mock.Anything, listingID, key).Return(nil)

	err := p.HandleImageProcessTask(context.Background(), imageTask(t, listingID.String(), key))

	require.NoError(t, err)
	store.AssertExpectations(t)
	listings.AssertExpectations(t)
}

func TestHandleImageProcessTask_BadInput(t *testing.T) {
	store := new(MockStorage)
	listings := new(MockListingService)
	cfg := &config.Config{ImageMaxDimension: 16, ImageMaxSizeMB: 1}
	p := tasks.NewTaskProcessor(cfg, nil, store, listings, zap.NewNop())
	ctx := context.Background()

	err := p.HandleImageProcessTask(ctx, asynq.NewTask(tasks.TypeImageProcess, []byte("nope")))
	assert.ErrorIs(t, err, asynq.SkipRetry, "malformed payload")

	err = p.HandleImageProcessTask(ctx, imageTask(t, "!!", "k"))
	assert.ErrorIs(t, err, asynq.SkipRetry, "invalid listing id")

	listingID := utils.NewSixID()

	store.On("GetObject", mock.Anything, "gone").Return(nil, "", storage.ErrObjectNotFound)
	err = p.HandleImageProcessTask(ctx, imageTask(t, listingID.String(), "gone"))
	assert.ErrorIs(t, err, asynq.SkipRetry, "missing object")

	store.On("GetObject", mock.Anything, "junk").Return([]byte("garbage"), "image/png", nil)
	store.On("DeleteObject", mock.Anything, "junk").Return(nil)
	err = p.HandleImageProcessTask(ctx, imageTask(t, listingID.String(), "junk"))
	assert.ErrorIs(t, err, asynq.SkipRetry, "undecodable image")
	store.AssertCalled(t, "DeleteObject", mock.Anything, "junk")

	store.On("GetObject", mock.Anything, "orphan").Return(testImage(t, 8, 8), "image/png", nil)
	store.On("PutObject", mock.Anything, "orphan", mock.Anything, "image/jpeg").Return(nil)
	listings.On("AddImageToListing", mock.Anything, listingID, "orphan").Return(apperr.NotFound("listing %s not found", listingID))
	err = p.HandleImageProcessTask(ctx, imageTask(t, listingID.String(), "orphan"))
	assert.ErrorIs(t, err, asynq.SkipRetry, "listing deleted")

	listings.AssertNotCalled(t, "AddImageToListing", mock.Anything, mock.Anything, "junk")
}

type recordingEnqueuer struct {
	tasks []*asynq.Task
}

func (r *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{ID: "1", Type: task.Type()}, nil
}

func TestEnqueueImageProcess(t *testing.T) {
	q := &recordingEnqueuer{}
	listingID := utils.NewSixID()

	require.NoError(t, tasks.EnqueueImageProcess(context.Background(), q, listingID, "listings/x.jpg"))
	require.Len(t, q.tasks, 1)
	assert.Equal(t, tasks.TypeImageProcess, q.tasks[0].Type())

	var payload tasks.ImageTaskPayload
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload(), &payload))
	assert.Equal(t, listingID.String(), payload.ListingID)
	assert.Equal(t, "listings/x.jpg", payload.S3Key)
}
