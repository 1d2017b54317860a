package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// Order represents a customer order with pricing and discount details.
type Order struct {
	ID          string
	UserID      string
	Items       []OrderItem
	Subtotal    decimal.Decimal
	Discount    decimal.Decimal
	ShippingFee decimal.Decimal
	Total       decimal.Decimal
	CouponID    string
	CouponCode  string
	Status      Status
	CreatedAt   time.Time
	PaidAt      *time.Time
}

// Categories returns the distinct categories of the ordered products.
func (o *Order) Categories() []string {
	seen := make(map[string]struct{}, len(o.Items))
	out := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		if _, ok := seen[it.Category]; ok || it.Category == "" {
			continue
		}
		seen[it.Category] = struct{}{}
		out = append(out, it.Category)
	}
	return out
}

// OrderItem represents a single line item in an order, priced at placement.
type OrderItem struct {
	ProductID string          `json:"product_id"`
	Size      string          `json:"size,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Category  string          `json:"category"`
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create persists a pending order and reserves its stock in one
	// transaction. A *cart.StockError is returned when stock ran out since
	// the order was quoted.
	Create(ctx context.Context, order *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	// MarkPaid moves a pending order to paid. changed is false when the order
	// was already paid.
	MarkPaid(ctx context.Context, id string, paidAt time.Time) (o *Order, changed bool, err error)
	// Cancel moves a pending order to cancelled and releases its stock.
	// changed is false when the order was already cancelled.
	Cancel(ctx context.Context, id string) (o *Order, changed bool, err error)
	CountCompletedOrders(ctx context.Context, userID string) (int, error)
}
