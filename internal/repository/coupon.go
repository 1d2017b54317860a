package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/coupon"
)

const (
	couponColumns = `id, code, description, discount_type, discount_value,
		minimum_order_amount, maximum_discount_amount, usage_limit, used_count,
		valid_from, valid_until, is_active, applicable_categories, excluded_categories,
		coupon_type, first_time_user_only, minimum_purchase_items, maximum_usage_per_user,
		stackable, priority, allowed_users, total_discount, total_order_value`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE UPPER(code) = UPPER(TRIM($1))`

	getCouponByIDSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	listActiveCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE is_active = TRUE
		ORDER BY priority DESC, code`

	countUserUsagesSQL = `SELECT count(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2`

	upsertCouponSQL = `INSERT INTO coupons (code, description, discount_type, discount_value,
		minimum_order_amount, maximum_discount_amount, usage_limit, valid_from, valid_until,
		is_active, applicable_categories, excluded_categories, coupon_type, first_time_user_only,
		minimum_purchase_items, maximum_usage_per_user, stackable, priority, allowed_users)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (UPPER(code)) DO UPDATE SET description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type, discount_value = EXCLUDED.discount_value,
			minimum_order_amount = EXCLUDED.minimum_order_amount,
			maximum_discount_amount = EXCLUDED.maximum_discount_amount,
			usage_limit = GREATEST(EXCLUDED.usage_limit, coupons.used_count),
			valid_from = EXCLUDED.valid_from, valid_until = EXCLUDED.valid_until,
			is_active = EXCLUDED.is_active, applicable_categories = EXCLUDED.applicable_categories,
			excluded_categories = EXCLUDED.excluded_categories, coupon_type = EXCLUDED.coupon_type,
			first_time_user_only = EXCLUDED.first_time_user_only,
			minimum_purchase_items = EXCLUDED.minimum_purchase_items,
			maximum_usage_per_user = EXCLUDED.maximum_usage_per_user,
			stackable = EXCLUDED.stackable, priority = EXCLUDED.priority,
			allowed_users = EXCLUDED.allowed_users
		RETURNING id`

	lockCouponSQL = `SELECT usage_limit, used_count, maximum_usage_per_user
		FROM coupons WHERE id = $1 FOR UPDATE`

	usageRecordedSQL = `SELECT EXISTS (SELECT 1 FROM coupon_usages WHERE order_id = $1)`

	insertUsageSQL = `INSERT INTO coupon_usages (coupon_id, user_id, order_id, used_at,
		discount_amount, order_total, categories, first_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (order_id) DO NOTHING`

	// The cap is rechecked in the predicate so the counter can never pass it.
	incrementUsageSQL = `UPDATE coupons SET used_count = used_count + 1,
		total_discount = total_discount + $2, total_order_value = total_order_value + $3
		WHERE id = $1 AND (usage_limit = 0 OR used_count < usage_limit)`

	listUsagesSQL = `SELECT coupon_id, user_id, order_id, used_at, discount_amount,
		order_total, categories, first_order
		FROM coupon_usages WHERE coupon_id = $1 ORDER BY used_at, id`

	logAttemptSQL = `INSERT INTO coupon_validation_attempts (code, user_id, valid, reason, attempted_at)
		VALUES ($1, $2, $3, $4, $5)`

	attemptStatsSQL = `SELECT count(*), count(*) FILTER (WHERE valid)
		FROM coupon_validation_attempts WHERE code = $1`
)

var (
	_ coupon.Repository = (*CouponRepository)(nil)
	_ coupon.UsageStore = (*CouponRepository)(nil)
	_ coupon.AttemptLog = (*CouponRepository)(nil)
)

// CouponRepository implements the coupon repositories backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code (case-insensitive), regardless of
// whether it is active. Returns coupon.ErrNotFound when no coupon matches.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.findOne(ctx, getCouponByCodeSQL, code)
}

// FindByID looks up a coupon by id.
func (r *CouponRepository) FindByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	return r.findOne(ctx, getCouponByIDSQL, id)
}

func (r *CouponRepository) findOne(ctx context.Context, query, arg string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("finding coupon %q: %w", arg, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon %q: %w", arg, err)
	}
	return &c, nil
}

// ListActive returns all coupons with the kill switch off.
func (r *CouponRepository) ListActive(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listActiveCouponsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing active coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// CountUserUsages returns how many usages the user has recorded for the coupon.
func (r *CouponRepository) CountUserUsages(ctx context.Context, couponID, userID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countUserUsagesSQL, couponID, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting usages of coupon %q: %w", couponID, err)
	}
	return n, nil
}

// Upsert creates a coupon or updates its definition by code. Counters and
// aggregates are left to the ledger; a lowered usage limit never drops below
// the current used count. It returns the coupon id.
func (r *CouponRepository) Upsert(ctx context.Context, c coupon.Coupon) (string, error) {
	if err := c.Validate(); err != nil {
		return "", fmt.Errorf("invalid coupon %q: %w", c.Code, err)
	}
	var id string
	err := r.pool.QueryRow(ctx, upsertCouponSQL,
		coupon.NormalizeCode(c.Code), c.Description, string(c.DiscountType), c.DiscountValue,
		c.MinimumOrderAmount, c.MaximumDiscountAmount, c.UsageLimit, c.ValidFrom, c.ValidUntil,
		c.IsActive, nonNil(c.ApplicableCategories), nonNil(c.ExcludedCategories), string(c.CouponType),
		c.FirstTimeUserOnly, c.MinimumPurchaseItems, c.MaximumUsagePerUser, c.Stackable, c.Priority,
		nonNil(c.AllowedUsers),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return id, nil
}

// RecordUsage appends a usage and bumps the coupon counters in one
// transaction. The coupon row is locked first, so concurrent writers for the
// same coupon are serialized and the loser of the last slot gets
// coupon.ErrUsageLimitReached.
func (r *CouponRepository) RecordUsage(ctx context.Context, u coupon.Usage) (bool, error) {
	var recorded bool
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var usageLimit, usedCount, perUser int
		err := tx.QueryRow(ctx, lockCouponSQL, u.CouponID).Scan(&usageLimit, &usedCount, &perUser)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return coupon.ErrNotFound
			}
			return fmt.Errorf("locking coupon %q: %w", u.CouponID, err)
		}

		var exists bool
		if err := tx.QueryRow(ctx, usageRecordedSQL, u.OrderID).Scan(&exists); err != nil {
			return fmt.Errorf("checking order %q: %w", u.OrderID, err)
		}
		if exists {
			return nil
		}

		if usageLimit > 0 && usedCount >= usageLimit {
			return coupon.ErrUsageLimitReached
		}
		if perUser > 0 {
			var n int
			if err := tx.QueryRow(ctx, countUserUsagesSQL, u.CouponID, u.UserID).Scan(&n); err != nil {
				return fmt.Errorf("counting user usages: %w", err)
			}
			if n >= perUser {
				return coupon.ErrUserLimitReached
			}
		}

		tag, err := tx.Exec(ctx, insertUsageSQL,
			u.CouponID, u.UserID, u.OrderID, u.UsedAt,
			u.DiscountAmount, u.OrderTotal, nonNil(u.Categories), u.FirstOrder,
		)
		if err != nil {
			return fmt.Errorf("inserting usage for order %q: %w", u.OrderID, err)
		}
		if tag.RowsAffected() == 0 {
			// Recorded concurrently under another coupon.
			return nil
		}

		tag, err = tx.Exec(ctx, incrementUsageSQL, u.CouponID, u.DiscountAmount, u.OrderTotal)
		if err != nil {
			return fmt.Errorf("incrementing coupon %q: %w", u.CouponID, err)
		}
		if tag.RowsAffected() == 0 {
			return coupon.ErrUsageLimitReached
		}
		recorded = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return recorded, nil
}

// ListUsages returns the usage history of a coupon, oldest first.
func (r *CouponRepository) ListUsages(ctx context.Context, couponID string) ([]coupon.Usage, error) {
	rows, err := r.pool.Query(ctx, listUsagesSQL, couponID)
	if err != nil {
		return nil, fmt.Errorf("listing usages of coupon %q: %w", couponID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (coupon.Usage, error) {
		var u coupon.Usage
		err := row.Scan(&u.CouponID, &u.UserID, &u.OrderID, &u.UsedAt,
			&u.DiscountAmount, &u.OrderTotal, &u.Categories, &u.FirstOrder)
		return u, err
	})
}

// LogAttempt stores a validation attempt under the normalized code.
func (r *CouponRepository) LogAttempt(ctx context.Context, a coupon.Attempt) error {
	_, err := r.pool.Exec(ctx, logAttemptSQL,
		coupon.NormalizeCode(a.Code), a.UserID, a.Valid, string(a.Reason), a.At)
	if err != nil {
		return fmt.Errorf("logging attempt for %q: %w", a.Code, err)
	}
	return nil
}

// AttemptStats counts the validation attempts of a code.
func (r *CouponRepository) AttemptStats(ctx context.Context, code string) (coupon.AttemptStats, error) {
	var s coupon.AttemptStats
	if err := r.pool.QueryRow(ctx, attemptStatsSQL, coupon.NormalizeCode(code)).Scan(&s.Total, &s.Successful); err != nil {
		return s, fmt.Errorf("counting attempts for %q: %w", code, err)
	}
	return s, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c               coupon.Coupon
		discountType    string
		couponType      string
		totalDiscount   decimal.Decimal
		totalOrderValue decimal.Decimal
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Description, &discountType, &c.DiscountValue,
		&c.MinimumOrderAmount, &c.MaximumDiscountAmount, &c.UsageLimit, &c.UsedCount,
		&c.ValidFrom, &c.ValidUntil, &c.IsActive, &c.ApplicableCategories, &c.ExcludedCategories,
		&couponType, &c.FirstTimeUserOnly, &c.MinimumPurchaseItems, &c.MaximumUsagePerUser,
		&c.Stackable, &c.Priority, &c.AllowedUsers, &totalDiscount, &totalOrderValue,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	c.CouponType = coupon.Type(couponType)
	c.Stats = coupon.StatsFrom(c.UsedCount, c.UsageLimit, totalDiscount, totalOrderValue)
	return c, err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
