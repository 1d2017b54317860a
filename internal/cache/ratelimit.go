package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// counter is the subset of the Redis client the rate limiter uses.
type counter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd
}

// FixedWindow is a rate limiter shared by all replicas. Each key gets one
// Redis counter per window, expiring with the window.
type FixedWindow struct {
	client counter
	max    int
	window time.Duration
}

var _ httpmiddleware.Limiter = (*FixedWindow)(nil)

// NewFixedWindow creates a limiter allowing max requests per window.
func NewFixedWindow(client *redis.Client, max int, window time.Duration) *FixedWindow {
	return newFixedWindow(client, max, window)
}

func newFixedWindow(client counter, max int, window time.Duration) *FixedWindow {
	return &FixedWindow{client: client, max: max, window: window}
}

// Allow implements httpmiddleware.Limiter.
func (f *FixedWindow) Allow(ctx context.Context, key string, now time.Time) (httpmiddleware.Decision, error) {
	start := now.Truncate(f.window)
	d := httpmiddleware.Decision{ResetAt: start.Add(f.window)}

	k := buildKey("rate_limit", key, strconv.FormatInt(start.Unix(), 10))
	count, err := f.client.Incr(ctx, k).Result()
	if err != nil {
		return d, errors.Wrap(err, "incr")
	}
	if count == 1 {
		if err := f.client.Expire(ctx, k, f.window).Err(); err != nil {
			return d, errors.Wrap(err, "expire")
		}
	}

	d.Allowed = count <= int64(f.max)
	d.Remaining = max(0, f.max-int(count))
	return d, nil
}
