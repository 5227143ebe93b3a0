package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotAcquired is returned when the lock is still held by someone else
// once the wait budget is spent.
var ErrLockNotAcquired = errors.New("lock not acquired")

// ListingLocker serialises booking writes per listing.
type ListingLocker interface {
	// Lock blocks until the listing lock is held, ctx is done, or the wait budget
	// runs out. The returned func releases the lock.
	Lock(ctx context.Context, listingID string) (unlock func(), err error)
}

// Deletes the key only while it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const lockRetryInterval = 25 * time.Millisecond

type redisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisLocker returns a ListingLocker backed by SET NX keys that expire after ttl.
// Lock waits at most ttl for a competing holder to finish.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) ListingLocker {
	return &redisLocker{client: client, ttl: ttl}
}

func lockKey(listingID string) string {
	return "lock:listing:" + listingID
}

func (l *redisLocker) Lock(ctx context.Context, listingID string) (func(), error) {
	key := lockKey(listingID)
	token := uuid.NewString()
	deadline := time.Now().Add(l.ttl)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return func() {
				// Fresh context so a cancelled request still releases the key.
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = unlockScript.Run(releaseCtx, l.client, []string{key}, token).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

type noopLocker struct{}

// NewNoopLocker returns a ListingLocker that never blocks. For tests and single-process tools.
func NewNoopLocker() ListingLocker { return noopLocker{} }

func (noopLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}
