package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/storefront/internal/domain/coupon"
)

// notFound marks a cached miss so unknown codes do not hit the database on
// every attempt.
const notFound = "-"

var (
	_ coupon.Repository       = (*CouponCache)(nil)
	_ coupon.UsageInvalidator = (*CouponCache)(nil)
)

// CouponCache is a cache-aside decorator over coupon lookups by code.
// Concurrent misses for the same code are collapsed into one database read.
//
// Cached coupons may lag the ledger by up to the TTL; the ledger enforces
// caps against the database, and Invalidate drops entries after each usage.
type CouponCache struct {
	next  coupon.Repository
	store cmdable
	ttl   time.Duration
	group singleflight.Group
}

// NewCouponCache wraps next with a Redis cache.
func NewCouponCache(next coupon.Repository, client *redis.Client, ttl time.Duration) *CouponCache {
	return newCouponCache(next, client, ttl)
}

func newCouponCache(next coupon.Repository, store cmdable, ttl time.Duration) *CouponCache {
	return &CouponCache{next: next, store: store, ttl: ttl}
}

func couponKey(code string) string {
	return buildKey("coupon", "code", coupon.NormalizeCode(code))
}

// FindByCode returns the coupon from cache, loading it on a miss. Redis
// failures fall through to the repository.
func (c *CouponCache) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	key := couponKey(code)
	if cached, hit := c.get(ctx, key); hit {
		return found(cached)
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if cached, hit := c.get(ctx, key); hit {
			return found(cached)
		}
		loaded, err := c.next.FindByCode(ctx, code)
		switch {
		case errors.Is(err, coupon.ErrNotFound):
			c.set(ctx, key, notFound)
			return nil, coupon.ErrNotFound
		case err != nil:
			return nil, err
		}
		data, err := json.Marshal(loaded)
		if err != nil {
			return nil, errors.Wrap(err, "encode coupon")
		}
		c.set(ctx, key, string(data))
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	// Callers sharing a flight must not share the struct.
	cp := *v.(*coupon.Coupon)
	return &cp, nil
}

func found(cached *coupon.Coupon) (*coupon.Coupon, error) {
	if cached == nil {
		return nil, coupon.ErrNotFound
	}
	return cached, nil
}

// get reports a hit with a nil coupon for a cached unknown code.
func (c *CouponCache) get(ctx context.Context, key string) (*coupon.Coupon, bool) {
	raw, err := c.store.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zctx.From(ctx).Warn("Coupon cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if raw == notFound {
		return nil, true
	}
	var cached coupon.Coupon
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		zctx.From(ctx).Warn("Coupon cache entry corrupt", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &cached, true
}

func (c *CouponCache) set(ctx context.Context, key, value string) {
	if err := c.store.Set(ctx, key, value, c.ttl).Err(); err != nil {
		zctx.From(ctx).Warn("Coupon cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate drops the cached coupon so the next lookup sees fresh counters.
func (c *CouponCache) Invalidate(ctx context.Context, code string) error {
	if err := c.store.Del(ctx, couponKey(code)).Err(); err != nil {
		return errors.Wrap(err, "delete cached coupon")
	}
	return nil
}

// FindByID is not cached.
func (c *CouponCache) FindByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	return c.next.FindByID(ctx, id)
}

// ListActive is not cached.
func (c *CouponCache) ListActive(ctx context.Context) ([]coupon.Coupon, error) {
	return c.next.ListActive(ctx)
}

// CountUserUsages is not cached; per-user caps must see the latest usage.
func (c *CouponCache) CountUserUsages(ctx context.Context, couponID, userID string) (int, error) {
	return c.next.CountUserUsages(ctx, couponID, userID)
}
