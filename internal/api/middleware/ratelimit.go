package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"rentmarket/api/internal/apperr"
)

const (
	limiterCleanupInterval = 10 * time.Minute
	limiterIdleTTL         = 30 * time.Minute
)

// clientLimiter stores the token bucket of a single client.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiterMiddleware applies a token bucket per client IP.
type RateLimiterMiddleware struct {
	clients    map[string]*clientLimiter
	mu         sync.Mutex
	refillRate rate.Limit
	bucketSize int
	logger     *zap.Logger
	now        func() time.Time
}

// NewRateLimiterMiddleware creates the limiter. Idle client entries are dropped
// periodically until ctx is cancelled.
func NewRateLimiterMiddleware(ctx context.Context, refillRate, bucketSize int, log *zap.Logger) *RateLimiterMiddleware {
	rm := &RateLimiterMiddleware{
		clients:    make(map[string]*clientLimiter),
		refillRate: rate.Limit(refillRate),
		bucketSize: bucketSize,
		logger:     log.Named("ratelimit"),
		now:        time.Now,
	}
	go rm.cleanupLoop(ctx)
	return rm
}

func (rm *RateLimiterMiddleware) getClientLimiter(identifier string) *rate.Limiter {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	cl, exists := rm.clients[identifier]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(rm.refillRate, rm.bucketSize)}
		rm.clients[identifier] = cl
	}
	cl.lastSeen = rm.now()
	return cl.limiter
}

func (rm *RateLimiterMiddleware) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := rm.cleanup(limiterIdleTTL); n > 0 {
				rm.logger.Debug("Rate limiter cleanup", zap.Int("removed", n))
			}
		}
	}
}

// cleanup removes clients idle for longer than ttl and returns how many were removed.
func (rm *RateLimiterMiddleware) cleanup(ttl time.Duration) int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	cutoff := rm.now().Add(-ttl)
	count := 0
	for id, cl := range rm.clients {
		if cl.lastSeen.Before(cutoff) {
			delete(rm.clients, id)
			count++
		}
	}
	return count
}

// Limit creates the Gin middleware handler.
func (rm *RateLimiterMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientKey := c.ClientIP()
		if !rm.getClientLimiter(clientKey).Allow() {
			rm.logger.Info("Rate limit exceeded", zap.String("client", clientKey), zap.String("path", c.FullPath()))
			abortWithKind(c, apperr.KindRateLimited, "Rate limit exceeded")
			return
		}
		c.Next()
	}
}
