package coupon

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Item is a cart line as seen by the eligibility rules.
type Item struct {
	ProductID string
	Category  string
	Quantity  int
	Price     decimal.Decimal
}

// Request carries everything a coupon is evaluated against. The current user
// and cart are passed explicitly, never read from ambient state.
type Request struct {
	Code        string
	OrderAmount decimal.Decimal
	Items       []Item
	UserID      string
}

// Evaluator decides whether a coupon applies to an order. It never mutates
// coupon state, so repeated evaluation cannot consume a coupon.
type Evaluator struct {
	coupons Repository
	orders  OrderHistory
	tracer  trace.Tracer
	now     func() time.Time
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithTracerProvider sets the tracer provider used for evaluation spans.
func WithTracerProvider(tp trace.TracerProvider) EvaluatorOption {
	return func(e *Evaluator) {
		e.tracer = tp.Tracer("storefront/coupon")
	}
}

// NewEvaluator creates an Evaluator over the coupon repository and the order
// history collaborator.
func NewEvaluator(coupons Repository, orders OrderHistory, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		coupons: coupons,
		orders:  orders,
		tracer:  noop.NewTracerProvider().Tracer(""),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs the eligibility checks in order and returns the coupon when
// all of them pass. The first failing check determines the returned
// *ValidationError. Other errors are infrastructure failures.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (*Coupon, error) {
	ctx, span := e.tracer.Start(ctx, "coupon.Evaluate",
		trace.WithAttributes(attribute.String("coupon.code", NormalizeCode(req.Code))),
	)
	defer span.End()

	c, err := e.coupons.FindByCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}
	if !c.Discoverable(req.UserID) {
		return nil, ErrNotFound
	}

	if err := e.check(ctx, c, req, e.now(), true); err != nil {
		span.SetAttributes(attribute.String("coupon.reason", string(ReasonOf(err))))
		return nil, err
	}
	return c, nil
}

// EvaluateAndCalculate evaluates the coupon and computes its discount.
func (e *Evaluator) EvaluateAndCalculate(ctx context.Context, req Request) (*Coupon, Discount, error) {
	c, err := e.Evaluate(ctx, req)
	if err != nil {
		return nil, Discount{}, err
	}
	d, err := Calculate(c, req.OrderAmount)
	if err != nil {
		return nil, Discount{}, err
	}
	return c, d, nil
}

// check runs the eligibility rules. Cart-dependent rules (item count and
// categories) are skipped when withCart is false.
func (e *Evaluator) check(ctx context.Context, c *Coupon, req Request, now time.Time, withCart bool) error {
	if !c.IsActive {
		return ErrInactive
	}

	if now.Before(c.ValidFrom) {
		return reject(CodeNotYetValid, "coupon is valid from %s", c.ValidFrom.Format(time.DateOnly))
	}
	if now.After(c.ValidUntil) {
		return reject(CodeExpired, "coupon expired on %s", c.ValidUntil.Format(time.DateOnly))
	}

	if c.Exhausted() {
		return ErrUsageLimitReached
	}

	if req.OrderAmount.LessThan(c.MinimumOrderAmount) {
		return reject(CodeMinOrderNotMet, "minimum order amount is %s", c.MinimumOrderAmount.StringFixed(MoneyPlaces))
	}

	if withCart && c.MinimumPurchaseItems > 0 && len(req.Items) < c.MinimumPurchaseItems {
		return reject(CodeMinItemsNotMet, "add at least %d items to use this coupon", c.MinimumPurchaseItems)
	}

	if c.FirstTimeUserOnly {
		if req.UserID == "" {
			return ErrUserRequired
		}
		n, err := e.orders.CountCompletedOrders(ctx, req.UserID)
		if err != nil {
			return errors.Wrap(err, "count completed orders")
		}
		if n > 0 {
			return ErrNotFirstTimeUser
		}
	}

	if c.MaximumUsagePerUser > 0 {
		if req.UserID == "" {
			return ErrUserRequired
		}
		n, err := e.coupons.CountUserUsages(ctx, c.ID, req.UserID)
		if err != nil {
			return errors.Wrap(err, "count user usages")
		}
		if n >= c.MaximumUsagePerUser {
			return ErrUserLimitReached
		}
	}

	if !withCart {
		return nil
	}
	return checkCategories(c, req.Items)
}

// checkCategories applies the inclusion and exclusion sets. Exclusion wins
// when a category is in both.
func checkCategories(c *Coupon, items []Item) error {
	if len(c.ExcludedCategories) > 0 {
		excluded := categorySet(c.ExcludedCategories)
		for _, it := range items {
			if _, ok := excluded[normalizeCategory(it.Category)]; ok {
				return reject(CodeCategoryExcluded, "coupon cannot be used with %s items", it.Category)
			}
		}
	}

	if len(c.ApplicableCategories) > 0 {
		applicable := categorySet(c.ApplicableCategories)
		for _, it := range items {
			if _, ok := applicable[normalizeCategory(it.Category)]; ok {
				return nil
			}
		}
		return ErrCategoryNotApplicable
	}

	return nil
}

func categorySet(categories []string) map[string]struct{} {
	set := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		set[normalizeCategory(c)] = struct{}{}
	}
	return set
}

func normalizeCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

// Offer is a coupon the user can currently apply, with a discount preview.
type Offer struct {
	Coupon   Coupon
	Discount Discount
}

// Available lists the coupons the user could apply to an order of the given
// amount, best first: higher priority, then larger discount, then code.
// The cart is unknown here, so item-count and category rules are not applied.
func (e *Evaluator) Available(ctx context.Context, userID string, orderAmount decimal.Decimal) ([]Offer, error) {
	coupons, err := e.coupons.ListActive(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list active coupons")
	}

	now := e.now()
	offers := make([]Offer, 0, len(coupons))
	for i := range coupons {
		c := &coupons[i]
		if !c.Discoverable(userID) {
			continue
		}
		req := Request{Code: c.Code, OrderAmount: orderAmount, UserID: userID}
		if err := e.check(ctx, c, req, now, false); err != nil {
			if ReasonOf(err) != "" {
				continue
			}
			return nil, err
		}
		d, err := Calculate(c, orderAmount)
		if err != nil {
			return nil, err
		}
		offers = append(offers, Offer{Coupon: *c, Discount: d})
	}

	slices.SortStableFunc(offers, func(a, b Offer) int {
		if n := cmp.Compare(b.Coupon.Priority, a.Coupon.Priority); n != 0 {
			return n
		}
		if n := b.Discount.Amount.Cmp(a.Discount.Amount); n != 0 {
			return n
		}
		return strings.Compare(a.Coupon.Code, b.Coupon.Code)
	})
	return offers, nil
}
