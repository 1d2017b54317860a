package coupon

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// memRepo is an in-memory Repository and UsageStore.
type memRepo struct {
	mu         sync.Mutex
	coupons    map[string]*Coupon // by normalized code
	usages     []Usage
	userUsages map[string]int // couponID|userID
	findErr    error
}

func newMemRepo(coupons ...Coupon) *memRepo {
	r := &memRepo{coupons: map[string]*Coupon{}, userUsages: map[string]int{}}
	for i := range coupons {
		c := coupons[i]
		r.coupons[NormalizeCode(c.Code)] = &c
	}
	return r
}

func (r *memRepo) FindByCode(_ context.Context, code string) (*Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	c, ok := r.coupons[NormalizeCode(code)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memRepo) FindByID(_ context.Context, id string) (*Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.coupons {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memRepo) ListActive(_ context.Context) ([]Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Coupon
	for _, c := range r.coupons {
		if c.IsActive {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *memRepo) CountUserUsages(_ context.Context, couponID, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userUsages[couponID+"|"+userID], nil
}

func (r *memRepo) RecordUsage(_ context.Context, u Usage) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, prev := range r.usages {
		if prev.OrderID == u.OrderID {
			return false, nil
		}
	}
	var c *Coupon
	for _, cc := range r.coupons {
		if cc.ID == u.CouponID {
			c = cc
		}
	}
	if c == nil {
		return false, errors.New("coupon vanished")
	}
	if c.Exhausted() {
		return false, ErrUsageLimitReached
	}
	key := u.CouponID + "|" + u.UserID
	if c.MaximumUsagePerUser > 0 && r.userUsages[key] >= c.MaximumUsagePerUser {
		return false, ErrUserLimitReached
	}
	c.UsedCount++
	r.userUsages[key]++
	r.usages = append(r.usages, u)
	return true, nil
}

func (r *memRepo) ListUsages(_ context.Context, couponID string) ([]Usage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Usage
	for _, u := range r.usages {
		if u.CouponID == couponID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *memRepo) usedCount(code string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.coupons[NormalizeCode(code)].UsedCount
}

type mockHistory struct {
	completed map[string]int
	calls     int
}

func (m *mockHistory) CountCompletedOrders(_ context.Context, userID string) (int, error) {
	m.calls++
	return m.completed[userID], nil
}

type mockAttempts struct {
	stats AttemptStats
	err   error
}

func (m *mockAttempts) LogAttempt(_ context.Context, a Attempt) error {
	m.stats.Total++
	if a.Valid {
		m.stats.Successful++
	}
	return nil
}

func (m *mockAttempts) AttemptStats(_ context.Context, _ string) (AttemptStats, error) {
	return m.stats, m.err
}

var testNow = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func baseCoupon() Coupon {
	return Coupon{
		ID:                 "c1",
		Code:               "SAVE10",
		DiscountType:       DiscountPercentage,
		DiscountValue:      dec("10"),
		MinimumOrderAmount: decimal.Zero,
		ValidFrom:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidUntil:         time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC),
		IsActive:           true,
		CouponType:         TypePublic,
	}
}

func newTestEvaluator(repo *memRepo, history *mockHistory) *Evaluator {
	if history == nil {
		history = &mockHistory{}
	}
	e := NewEvaluator(repo, history)
	e.now = func() time.Time { return testNow }
	return e
}
