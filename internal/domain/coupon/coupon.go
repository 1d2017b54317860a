package coupon

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage-based discount to the order amount,
	// optionally capped by MaximumDiscountAmount.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed applies a fixed monetary discount capped at the order amount.
	DiscountFixed DiscountType = "fixed"
	// DiscountFreeShipping waives the delivery fee and leaves the subtotal untouched.
	DiscountFreeShipping DiscountType = "free_shipping"
)

// Valid reports whether t is one of the known discount types.
func (t DiscountType) Valid() bool {
	switch t {
	case DiscountPercentage, DiscountFixed, DiscountFreeShipping:
		return true
	default:
		return false
	}
}

// Type controls how a coupon is discovered. It never affects discount math.
type Type string

const (
	TypePublic     Type = "public"
	TypePrivate    Type = "private"
	TypeSeasonal   Type = "seasonal"
	TypeFlashSale  Type = "flash_sale"
	TypeFirstOrder Type = "first_order"
)

// Valid reports whether t is one of the known coupon types.
func (t Type) Valid() bool {
	switch t {
	case TypePublic, TypePrivate, TypeSeasonal, TypeFlashSale, TypeFirstOrder:
		return true
	default:
		return false
	}
}

// Coupon is a discount rule identified by a unique, case-insensitive code.
//
// UsedCount and Stats are maintained by the usage ledger only.
type Coupon struct {
	ID          string
	Code        string
	Description string

	DiscountType          DiscountType
	DiscountValue         decimal.Decimal
	MinimumOrderAmount    decimal.Decimal
	MaximumDiscountAmount decimal.Decimal // zero means uncapped

	UsageLimit int // zero means unlimited
	UsedCount  int

	ValidFrom  time.Time
	ValidUntil time.Time
	IsActive   bool

	ApplicableCategories []string
	ExcludedCategories   []string

	CouponType           Type
	FirstTimeUserOnly    bool
	MinimumPurchaseItems int
	MaximumUsagePerUser  int // zero means unlimited
	Stackable            bool
	Priority             int
	// AllowedUsers lists the users a private coupon is targeted at.
	AllowedUsers []string

	Stats Stats
}

// Stats is the derived aggregate over a coupon's usage history.
type Stats struct {
	TotalUsage         int
	TotalDiscountGiven decimal.Decimal
	AverageOrderValue  decimal.Decimal
	RedemptionRate     decimal.Decimal
}

// Validate checks the structural invariants of a coupon definition.
func (c *Coupon) Validate() error {
	if strings.TrimSpace(c.Code) == "" {
		return errors.New("coupon code is required")
	}
	if !c.DiscountType.Valid() {
		return errors.Errorf("unsupported discount type: %q", c.DiscountType)
	}
	if !c.CouponType.Valid() {
		return errors.Errorf("unsupported coupon type: %q", c.CouponType)
	}
	if c.DiscountValue.IsNegative() {
		return errors.New("discount value must not be negative")
	}
	if c.DiscountType == DiscountPercentage && c.DiscountValue.GreaterThan(hundred) {
		return errors.New("percentage discount must not exceed 100")
	}
	if c.UsageLimit < 0 || c.MaximumUsagePerUser < 0 || c.MinimumPurchaseItems < 0 {
		return errors.New("limits must not be negative")
	}
	if c.ValidFrom.After(c.ValidUntil) {
		return errors.New("valid_from must not be after valid_until")
	}
	return nil
}

// Exhausted reports whether the global usage cap has been reached.
func (c *Coupon) Exhausted() bool {
	return c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit
}

// Status describes where the coupon is in its lifecycle at the given instant.
func (c *Coupon) Status(now time.Time) string {
	switch {
	case !c.IsActive:
		return "disabled"
	case now.Before(c.ValidFrom):
		return "scheduled"
	case now.After(c.ValidUntil):
		return "expired"
	case c.Exhausted():
		return "exhausted"
	default:
		return "active"
	}
}

// Discoverable reports whether the coupon may be listed to the given user.
func (c *Coupon) Discoverable(userID string) bool {
	if c.CouponType != TypePrivate {
		return true
	}
	return userID != "" && slices.Contains(c.AllowedUsers, userID)
}

// Usage is a single append-only entry of the usage ledger.
type Usage struct {
	CouponID       string
	UserID         string
	OrderID        string
	UsedAt         time.Time
	DiscountAmount decimal.Decimal
	OrderTotal     decimal.Decimal
	// Categories of the purchased items, recorded for analytics.
	Categories []string
	// FirstOrder is true when the order was the user's first completed order.
	FirstOrder bool
}

// Attempt is a logged validation attempt, successful or not.
type Attempt struct {
	Code   string
	UserID string
	Valid  bool
	Reason Code
	At     time.Time
}

// AttemptStats summarises validation attempts for a coupon.
type AttemptStats struct {
	Total      int
	Successful int
}

// Repository provides lookup of coupon definitions and their usage history.
type Repository interface {
	// FindByCode returns the coupon with the given code (case-insensitive),
	// or ErrNotFound.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// FindByID returns the coupon with the given id, or ErrNotFound.
	FindByID(ctx context.Context, id string) (*Coupon, error)
	// ListActive returns all coupons with is_active set.
	ListActive(ctx context.Context) ([]Coupon, error)
	// CountUserUsages returns how many times the user has redeemed the coupon.
	CountUserUsages(ctx context.Context, couponID, userID string) (int, error)
}

// UsageStore is the only mutating persistence entry point for coupons.
type UsageStore interface {
	// RecordUsage appends u and increments the coupon's counters as one atomic
	// step. It returns false without error when u.OrderID is already recorded,
	// and ErrUsageLimitReached / ErrUserLimitReached when a cap would be exceeded.
	RecordUsage(ctx context.Context, u Usage) (bool, error)
	ListUsages(ctx context.Context, couponID string) ([]Usage, error)
}

// AttemptLog stores validation attempts.
type AttemptLog interface {
	LogAttempt(ctx context.Context, a Attempt) error
	AttemptStats(ctx context.Context, code string) (AttemptStats, error)
}

// OrderHistory answers questions about a user's past orders.
type OrderHistory interface {
	CountCompletedOrders(ctx context.Context, userID string) (int, error)
}

// NormalizeCode canonicalises a coupon code for case-insensitive comparison.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
