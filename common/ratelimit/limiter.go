// Package ratelimit implements a fixed-window request limiter backed by
// Redis, shared across admin replicas.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/docpipe/docpipe/common/logger"
	"github.com/docpipe/docpipe/common/redis"
)

// Limiter counts requests per client within a fixed time window.
type Limiter struct {
	client *redis.Client
	log    *logger.Logger
	limit  int64
	window time.Duration
}

// New creates a limiter allowing limit requests per window
func New(client *redis.Client, log *logger.Logger, limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		client: client,
		log:    log,
		limit:  int64(limit),
		window: window,
	}
}

// Allow reports whether the client identified by key may make another
// request in the current window.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	window := time.Now().Unix() / int64(l.window.Seconds())
	counterKey := fmt.Sprintf("ratelimit:%s:%d", key, window)

	count, err := l.client.Increment(ctx, counterKey)
	if err != nil {
		return false, err
	}
	if count == 1 {
		// First hit in the window owns the TTL; extra margin so clock
		// skew between replicas cannot orphan the counter
		if err := l.client.Expire(ctx, counterKey, l.window*2); err != nil {
			l.log.Warn("failed to set rate limit expiry", "key", counterKey, "error", err)
		}
	}

	return count <= l.limit, nil
}

// Limit returns the configured per-window request limit
func (l *Limiter) Limit() int {
	return int(l.limit)
}

// Window returns the configured window size
func (l *Limiter) Window() time.Duration {
	return l.window
}
