package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems      = errors.New("items required")
	ErrNotFound        = errors.New("order not found")
	ErrNotPayable      = errors.New("order cannot be paid")
	ErrNotCancellable  = errors.New("paid orders cannot be cancelled")
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

func (e *InvalidQuantityError) Unwrap() error { return ErrInvalidQuantity }

// CouponEvaluator checks a coupon and computes its discount.
type CouponEvaluator interface {
	EvaluateAndCalculate(ctx context.Context, req coupon.Request) (*coupon.Coupon, coupon.Discount, error)
}

// UsageRecorder appends coupon usages to the ledger.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, code string, u coupon.Usage) (bool, error)
}

// Pricing holds the delivery fee policy.
type Pricing struct {
	ShippingFee decimal.Decimal
	// FreeShippingThreshold waives the fee for subtotals at or above it.
	// Zero disables the threshold.
	FreeShippingThreshold decimal.Decimal
}

// ShippingFor returns the delivery fee for a subtotal.
func (p Pricing) ShippingFor(subtotal decimal.Decimal, freeShipping bool) decimal.Decimal {
	if freeShipping || !p.ShippingFee.IsPositive() {
		return decimal.Zero
	}
	if p.FreeShippingThreshold.IsPositive() && subtotal.GreaterThanOrEqual(p.FreeShippingThreshold) {
		return decimal.Zero
	}
	return coupon.Round(p.ShippingFee)
}

// ItemRequest is a requested cart line.
type ItemRequest struct {
	ProductID string
	Size      string
	Quantity  int
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	UserID     string
	Items      []ItemRequest
	CouponCode string
}

// Quote is a fully priced cart that has not been persisted.
type Quote struct {
	Items       []OrderItem
	Products    []product.Product
	Stock       []cart.ReconciledItem
	Subtotal    decimal.Decimal
	Discount    coupon.Discount
	Coupon      *coupon.Coupon
	ShippingFee decimal.Decimal
	Total       decimal.Decimal
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order    *Order
	Products []product.Product
}

// CompleteResult is the outcome of a payment confirmation.
type CompleteResult struct {
	Order *Order
	// UsageRecorded is false when the order used a coupon whose consumption
	// could not be stored; the ledger logs those for manual reconciliation.
	UsageRecorded bool
}

// Service encapsulates order placement and completion.
type Service struct {
	pricing  Pricing
	products product.Repository
	coupons  CouponEvaluator
	ledger   UsageRecorder
	orders   Repository
	now      func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	pricing Pricing,
	products product.Repository,
	coupons CouponEvaluator,
	ledger UsageRecorder,
	orders Repository,
) *Service {
	return &Service{
		pricing:  pricing,
		products: products,
		coupons:  coupons,
		ledger:   ledger,
		orders:   orders,
		now:      time.Now,
	}
}

// Quote validates items, fetches products in a single batch, checks stock,
// applies the coupon and prices the cart. Nothing is persisted.
func (s *Service) Quote(ctx context.Context, req PlaceOrderRequest) (*Quote, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	inventory := cart.NewCatalogInventory(fetched)

	q := &Quote{
		Items:    make([]OrderItem, len(req.Items)),
		Products: make([]product.Product, len(req.Items)),
		Subtotal: decimal.Zero,
	}
	lines := make([]cart.LineItem, len(req.Items))
	couponItems := make([]coupon.Item, len(req.Items))
	for i, item := range req.Items {
		p, ok := inventory[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		q.Products[i] = p
		q.Items[i] = OrderItem{
			ProductID: p.ID,
			Size:      item.Size,
			Quantity:  item.Quantity,
			UnitPrice: p.Price,
			Category:  p.Category,
		}
		lines[i] = cart.LineItem{
			ProductID: p.ID,
			Size:      item.Size,
			Quantity:  item.Quantity,
			UnitPrice: p.Price,
		}
		couponItems[i] = coupon.Item{
			ProductID: p.ID,
			Category:  p.Category,
			Quantity:  item.Quantity,
			Price:     p.Price,
		}
		q.Subtotal = q.Subtotal.Add(p.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	q.Subtotal = coupon.Round(q.Subtotal)

	q.Stock = cart.Reconcile(lines, inventory)
	if err := cart.Check(q.Stock); err != nil {
		return nil, err
	}

	q.Discount = coupon.Discount{Amount: decimal.Zero, FinalAmount: q.Subtotal}
	if req.CouponCode != "" {
		c, d, err := s.coupons.EvaluateAndCalculate(ctx, coupon.Request{
			Code:        req.CouponCode,
			OrderAmount: q.Subtotal,
			Items:       couponItems,
			UserID:      req.UserID,
		})
		if err != nil {
			return nil, errors.Wrap(err, "validate coupon")
		}
		q.Coupon = c
		q.Discount = d
	}

	q.ShippingFee = s.pricing.ShippingFor(q.Subtotal, q.Discount.FreeShipping)
	q.Total = q.Discount.FinalAmount.Add(q.ShippingFee)
	return q, nil
}

// ReconcileCart annotates each cart line with live stock. Unlike Quote it
// never fails on stock problems or unknown products; it only flags them.
func (s *Service) ReconcileCart(ctx context.Context, items []ItemRequest) ([]cart.ReconciledItem, error) {
	if len(items) == 0 {
		return nil, ErrEmptyItems
	}
	ids := make([]string, len(items))
	for i, item := range items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	inventory := cart.NewCatalogInventory(fetched)

	lines := make([]cart.LineItem, len(items))
	for i, item := range items {
		lines[i] = cart.LineItem{
			ProductID: item.ProductID,
			Size:      item.Size,
			Quantity:  item.Quantity,
			UnitPrice: inventory[item.ProductID].Price,
		}
	}
	return cart.Reconcile(lines, inventory), nil
}

// PlaceOrder quotes the cart and persists it as a pending order.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	q, err := s.Quote(ctx, req)
	if err != nil {
		return nil, err
	}

	o := &Order{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		Items:       q.Items,
		Subtotal:    q.Subtotal,
		Discount:    q.Discount.Amount,
		ShippingFee: q.ShippingFee,
		Total:       q.Total,
		Status:      StatusPending,
		CreatedAt:   s.now(),
	}
	if q.Coupon != nil {
		o.CouponID = q.Coupon.ID
		o.CouponCode = q.Coupon.Code
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("total", o.Total.StringFixed(coupon.MoneyPlaces)),
		zap.String("coupon", o.CouponCode),
	)

	return &PlaceOrderResult{
		Order:    o,
		Products: q.Products,
	}, nil
}

// GetOrder returns an order for tracking.
func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", id)
	}
	return o, nil
}

// CancelOrder cancels a pending order and releases its reserved stock.
func (s *Service) CancelOrder(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", id)
	}
	if o.Status == StatusPaid {
		return nil, ErrNotCancellable
	}

	cancelled, changed, err := s.orders.Cancel(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "cancel order %s", id)
	}
	if changed {
		zctx.From(ctx).Info("Order cancelled", zap.String("order_id", id))
	}
	return cancelled, nil
}

// CompleteOrder is called once payment is confirmed. It marks the order paid
// and records coupon usage. Repeated calls are safe: the ledger ignores
// orders it has already recorded, so a retry heals a previously failed
// recording.
func (s *Service) CompleteOrder(ctx context.Context, id string) (*CompleteResult, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", id)
	}
	if o.Status == StatusCancelled {
		return nil, ErrNotPayable
	}

	priorOrders := 0
	if o.UserID != "" {
		if priorOrders, err = s.orders.CountCompletedOrders(ctx, o.UserID); err != nil {
			return nil, errors.Wrap(err, "count completed orders")
		}
	}

	paid, changed, err := s.orders.MarkPaid(ctx, id, s.now())
	if err != nil {
		return nil, errors.Wrapf(err, "mark order %s paid", id)
	}
	if !changed {
		// This order is already among the completed ones.
		priorOrders--
	}

	res := &CompleteResult{Order: paid, UsageRecorded: true}
	if paid.CouponID == "" {
		return res, nil
	}

	usedAt := s.now()
	if paid.PaidAt != nil {
		usedAt = *paid.PaidAt
	}
	_, err = s.ledger.RecordUsage(ctx, paid.CouponCode, coupon.Usage{
		CouponID:       paid.CouponID,
		UserID:         paid.UserID,
		OrderID:        paid.ID,
		UsedAt:         usedAt,
		DiscountAmount: paid.Discount,
		OrderTotal:     paid.Total,
		Categories:     paid.Categories(),
		FirstOrder:     priorOrders <= 0,
	})
	if err != nil {
		// Payment already went through; the ledger has logged the failure.
		res.UsageRecorded = false
	}
	return res, nil
}
